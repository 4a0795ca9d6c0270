package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/geocache-proxy/pkg/warm"
	"github.com/spf13/cobra"
)

func warmCmd() *cobra.Command {
	var (
		proxyURL    string
		inputPath   string
		concurrency int
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Pre-populate the cache by replaying request URIs",
		Long:  "Read request URIs (one per line, e.g. /maps/api/geocode/json?address=...) and request each through a running proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			uris, err := readURIs(in)
			if err != nil {
				return err
			}

			requester, err := warm.NewHTTPRequester(proxyURL, &http.Client{Timeout: timeout})
			if err != nil {
				return err
			}

			warmer := warm.NewWarmer(requester, warm.Config{
				MaxConcurrency: concurrency,
				Timeout:        timeout,
			})
			result, err := warmer.WarmAll(cmd.Context(), uris)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "warmed %d, failed %d in %s\n", result.Warmed, len(result.Failures), result.Duration.Round(time.Millisecond))
			if len(result.Failures) > 0 {
				return fmt.Errorf("%d request(s) failed", len(result.Failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&proxyURL, "proxy", "http://localhost:8851", "Proxy base URL")
	cmd.Flags().StringVarP(&inputPath, "file", "f", "-", "File with request URIs (- for stdin)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel requests")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Per-request timeout")

	return cmd
}

// readURIs returns the non-empty, non-comment lines of r.
func readURIs(r io.Reader) ([]string, error) {
	var uris []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return uris, nil
}
