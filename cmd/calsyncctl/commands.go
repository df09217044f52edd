package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func runPull(c *apiClient, user string, out io.Writer) error {
	v, err := c.do(http.MethodPost, fmt.Sprintf("/api/users/%s/sync/pull", user), nil, nil)
	if err != nil {
		return err
	}
	return render(out, outputFlag, v)
}

func runLogs(c *apiClient, user, provider string, limit int, out io.Writer) error {
	q := map[string]string{"limit": strconv.Itoa(limit)}
	if user != "" {
		q["userId"] = user
	}
	if provider != "" {
		q["provider"] = provider
	}
	v, err := c.do(http.MethodGet, "/api/sync/logs", q, nil)
	if err != nil {
		return err
	}
	return render(out, outputFlag, v)
}

func runMappings(c *apiClient, user string, eventID int64, out io.Writer) error {
	v, err := c.do(http.MethodGet, fmt.Sprintf("/api/users/%s/events/%d/mappings", user, eventID), nil, nil)
	if err != nil {
		return err
	}
	return render(out, outputFlag, v)
}

func runConnect(c *apiClient, user, provider, token, feed string, out io.Writer) error {
	body := map[string]string{}
	if token != "" {
		body["accessToken"] = token
	}
	if feed != "" {
		body["feedUrl"] = feed
	}
	v, err := c.do(http.MethodPut, fmt.Sprintf("/api/users/%s/connections/%s", user, provider), nil, body)
	if err != nil {
		return err
	}
	return render(out, outputFlag, v)
}

func init() {
	// pull
	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull every connected provider for a user now",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			return runPull(newClient(apiFlag), userFlag, os.Stdout)
		},
	}
	rootCmd.AddCommand(pullCmd)

	// logs
	var provider string
	var limit int
	var clear bool
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or clear the in-memory sync log",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(apiFlag)
			if clear {
				_, err := c.do(http.MethodDelete, "/api/sync/logs", nil, nil)
				return err
			}
			return runLogs(c, userFlag, provider, limit, os.Stdout)
		},
	}
	logsCmd.Flags().StringVarP(&provider, "provider", "p", "", "Only entries for this provider")
	logsCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Most recent entries to show")
	logsCmd.Flags().BoolVar(&clear, "clear", false, "Empty the log instead of showing it")
	rootCmd.AddCommand(logsCmd)

	// mappings
	mappingsCmd := &cobra.Command{
		Use:   "mappings EVENT_ID",
		Short: "List provider ids recorded for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("EVENT_ID must be an integer")
			}
			return runMappings(newClient(apiFlag), userFlag, id, os.Stdout)
		},
	}
	rootCmd.AddCommand(mappingsCmd)

	// connect
	var token, feed string
	connectCmd := &cobra.Command{
		Use:   "connect PROVIDER",
		Short: "Register a provider connection (google, outlook, apple)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireUser(); err != nil {
				return err
			}
			if token == "" && feed == "" {
				return fmt.Errorf("--token or --feed required")
			}
			return runConnect(newClient(apiFlag), userFlag, args[0], token, feed, os.Stdout)
		},
	}
	connectCmd.Flags().StringVar(&token, "token", "", "OAuth access token")
	connectCmd.Flags().StringVar(&feed, "feed", "", "Published calendar feed URL (apple)")
	rootCmd.AddCommand(connectCmd)
}
