// Copyright 2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command httpdisco resolves services through a configured discovery
// backend and talks to them over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bufbuild/httpdisco"
	"github.com/bufbuild/httpdisco/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

type flags struct {
	configPath string
	verbose    bool
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "httpdisco",
		Short:         "resolve services and call them over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "httpdisco.yaml", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "log background activity")
	root.AddCommand(
		newResolveCommand(&f, stdout),
		newGetCommand(&f, stdout),
		newWatchCommand(&f, stdout),
	)
	return root
}

func newResolveCommand(f *flags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve SERVICE...",
		Short: "print the endpoints of each service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(f, nil, func(cache *httpdisco.Cache) error {
				for _, service := range args {
					if _, err := cache.Resolve(cmd.Context(), service); err != nil {
						return err
					}
					printEndpoints(stdout, service, cache)
				}
				return nil
			})
		},
	}
}

func newGetCommand(f *flags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "get SERVICE PATH",
		Short: "GET a path on one endpoint of a service and print the response body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(f, nil, func(cache *httpdisco.Cache) error {
				client, err := cache.Client(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				req, err := client.NewRequest(cmd.Context(), http.MethodGet, args[1], nil)
				if err != nil {
					return err
				}
				resp, err := client.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if _, err := io.Copy(stdout, resp.Body); err != nil {
					return err
				}
				if resp.StatusCode < 200 || resp.StatusCode > 299 {
					return fmt.Errorf("%s %s: %s", client.Endpoint.HostPort(), args[1], resp.Status)
				}
				return nil
			})
		},
	}
}

func newWatchCommand(f *flags, stdout io.Writer) *cobra.Command {
	var interval time.Duration
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch SERVICE...",
		Short: "resolve services and print their endpoints periodically until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg := prometheus.NewRegistry()
			metrics, err := httpdisco.NewMetrics(reg)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				server := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fmt.Fprintln(os.Stderr, "metrics server:", err)
					}
				}()
				defer server.Close()
			}
			return withCache(f, []httpdisco.Option{httpdisco.WithMetrics(metrics)}, func(cache *httpdisco.Cache) error {
				for _, service := range args {
					if _, err := cache.Resolve(ctx, service); err != nil {
						return err
					}
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					fmt.Fprintf(stdout, "--- %s\n", time.Now().Format(time.RFC3339))
					for _, service := range args {
						printEndpoints(stdout, service, cache)
					}
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", httpdisco.DefaultRefreshWindow, "how often to print the cached endpoints")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func withCache(f *flags, extra []httpdisco.Option, fn func(*httpdisco.Cache) error) (retErr error) {
	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if f.verbose {
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
	}
	backend, closeBackend, err := cfg.OpenBackend(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	opts := append(cfg.Options(), httpdisco.WithLogger(logger))
	opts = append(opts, extra...)
	cache := httpdisco.New(backend, nil, opts...)
	defer func() {
		if err := cache.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	return fn(cache)
}

func printEndpoints(w io.Writer, service string, cache *httpdisco.Cache) {
	endpoints, ok := cache.Endpoints(service)
	if !ok {
		fmt.Fprintf(w, "%s\t(not cached)\n", service)
		return
	}
	if len(endpoints) == 0 {
		fmt.Fprintf(w, "%s\t(no endpoints)\n", service)
		return
	}
	for _, endpoint := range endpoints {
		line := service + "\t" + endpoint.HostPort()
		if endpoint.ID != "" && endpoint.ID != endpoint.HostPort() {
			line += "\tid=" + endpoint.ID
		}
		if len(endpoint.Tags) > 0 {
			line += "\ttags=" + strings.Join(endpoint.Tags, ",")
		}
		fmt.Fprintln(w, line)
	}
}
