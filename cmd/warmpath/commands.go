package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <csv-file>",
	Short: "Import a connection export and queue enrichment",
	Long: `Import a connection export CSV and queue enrichment for each row.

The CSV needs a header row with at least a profile_url column; full_name
and headline are picked up when present.

Example:
  warmpath import connections.csv --company acme-inc --owner 7f3a...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		companyID, _ := cmd.Flags().GetString("company")
		ownerID, _ := cmd.Flags().GetString("owner")
		priority, _ := cmd.Flags().GetInt("priority")
		if companyID == "" {
			return fmt.Errorf("--company is required")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening csv: %w", err)
		}
		defer f.Close()

		conns, err := readConnectionsCSV(f)
		if err != nil {
			return err
		}
		if len(conns) == 0 {
			return fmt.Errorf("no connections found in %s", args[0])
		}

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/connections", map[string]any{
			"company_id":      companyID,
			"owner_person_id": ownerID,
			"connections":     conns,
			"priority":        priority,
		})
		if err != nil {
			return err
		}

		var result struct {
			Imported int `json:"imported"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued %d connections for enrichment", result.Imported)
		return nil
	},
}

func readConnectionsCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	urlIdx, ok := col["profile_url"]
	if !ok {
		return nil, fmt.Errorf("csv has no profile_url column")
	}

	var conns []map[string]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row: %w", err)
		}
		if row[urlIdx] == "" {
			continue
		}
		conn := map[string]string{"profile_url": row[urlIdx]}
		if i, ok := col["full_name"]; ok && i < len(row) {
			conn["full_name"] = row[i]
		}
		if i, ok := col["headline"]; ok && i < len(row) {
			conn["headline"] = row[i]
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func init() {
	importCmd.Flags().String("company", "", "company tenant ID")
	importCmd.Flags().String("owner", "", "person ID of the connection owner")
	importCmd.Flags().Int("priority", 0, "enrichment priority")
}

// --- compute ---

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute the warm path for a candidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		companyID, _ := cmd.Flags().GetString("company")
		personID, _ := cmd.Flags().GetString("person")
		profileURL, _ := cmd.Flags().GetString("url")
		if companyID == "" {
			return fmt.Errorf("--company is required")
		}
		if personID == "" && profileURL == "" {
			return fmt.Errorf("one of --person or --url is required")
		}

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/warmpaths/compute", map[string]string{
			"company_id":  companyID,
			"person_id":   personID,
			"profile_url": profileURL,
		})
		if err != nil {
			return err
		}

		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	computeCmd.Flags().String("company", "", "company tenant ID")
	computeCmd.Flags().String("person", "", "candidate person ID")
	computeCmd.Flags().String("url", "", "candidate profile URL")
}

// --- rank ---

var rankCmd = &cobra.Command{
	Use:   "rank <company>",
	Short: "Show ranked candidates for a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/companies/%s/rank?limit=%d", args[0], limit))
		if err != nil {
			return err
		}

		var entries []struct {
			Person struct {
				ID       string `json:"ID"`
				FullName string `json:"FullName"`
			} `json:"person"`
			Path struct {
				PathType    string  `json:"PathType"`
				WarmthScore float64 `json:"WarmthScore"`
				Tier        int     `json:"Tier"`
			} `json:"path"`
			Urgency       string  `json:"urgency"`
			CombinedScore float64 `json:"combined_score"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No ranked candidates.")
			return nil
		}

		for i, e := range entries {
			name := e.Person.FullName
			if name == "" {
				name = e.Person.ID
			}
			fmt.Printf("%2d. %s  tier %d  %s  warmth %.2f  urgency %s  combined %.2f\n",
				i+1, colorize(colorBold, name), e.Path.Tier, e.Path.PathType,
				e.Path.WarmthScore, e.Urgency, e.CombinedScore)
		}
		return nil
	},
}

func init() {
	rankCmd.Flags().Int("limit", 25, "maximum candidates to show")
}

// --- outreach ---

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Manage the outreach queue",
}

var outreachApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending outreach job for sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("by")
		if approver == "" {
			return fmt.Errorf("--by is required")
		}

		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/outreach/"+args[0]+"/approve",
			map[string]string{"approved_by": approver})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Outreach %s scheduled", args[0])
		return nil
	},
}

var outreachCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel an outreach job before it sends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/outreach/"+args[0]+"/cancel", struct{}{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Outreach %s cancelled", args[0])
		return nil
	},
}

var outreachShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single outreach job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/outreach/"+args[0])
		if err != nil {
			return err
		}

		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	outreachApproveCmd.Flags().String("by", "", "approver identity")
	outreachCmd.AddCommand(outreachApproveCmd)
	outreachCmd.AddCommand(outreachCancelCmd)
	outreachCmd.AddCommand(outreachShowCmd)
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage automation sessions",
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with today's usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/sessions/"+args[0])
		if err != nil {
			return err
		}

		var sess any
		if err := decodeJSON(resp, &sess); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var sessionsResetCmd = &cobra.Command{
	Use:   "reset-health <id>",
	Short: "Manually reset a restricted session back to healthy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/sessions/"+args[0]+"/health/reset", struct{}{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Session %s health reset", args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsResetCmd)
}

// --- pool ---

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show scraper pool health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/pool/health")
		if err != nil {
			return err
		}

		var pool map[string]int
		if err := decodeJSON(resp, &pool); err != nil {
			return err
		}
		for _, status := range []string{"active", "warned", "aging", "banned", "retired"} {
			printStatus(status, "%d", pool[status])
		}
		return nil
	},
}
