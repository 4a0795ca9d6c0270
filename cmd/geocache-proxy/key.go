package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/geocache-proxy/pkg/cache"
	"github.com/Sternrassler/geocache-proxy/pkg/proxy"
	"github.com/spf13/cobra"
)

// keyCmd prints the cache keys a request URI maps to, current key first.
func keyCmd() *cobra.Command {
	var (
		namespace string
		legacy    bool
	)

	cmd := &cobra.Command{
		Use:   "key <request-uri>",
		Short: "Print the cache key for a request URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := requestKeys(namespace, args[0], legacy)
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), key.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", "cache-geo", "Key namespace")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Also print the legacy keys checked for migration")

	return cmd
}

func requestKeys(namespace, requestURI string, legacy bool) ([]cache.CacheKey, error) {
	u, err := url.ParseRequestURI(requestURI)
	if err != nil {
		return nil, fmt.Errorf("parse request uri: %w", err)
	}
	if !strings.HasPrefix(u.Path, proxy.APIPrefix) {
		return nil, fmt.Errorf("request uri must start with %s", proxy.APIPrefix)
	}

	path := strings.TrimPrefix(u.Path, proxy.APIPrefix)
	query := u.Query()

	keys := []cache.CacheKey{cache.DeriveKey(namespace, path, query)}
	if legacy {
		keys = append(keys, cache.DeriveLegacyKeys(namespace, path, u.RequestURI(), query)...)
	}
	return keys, nil
}
