package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type personRecord struct {
	ID   int64  `json:"ID"`
	Name string `json:"Name"`
}

func loadVecFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("decode %s as a JSON float array: %w", path, err)
	}
	return vec, nil
}

func newPeopleCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "people",
		Short: "Manage enrolled people for face search",
	}
	c.AddCommand(newPeopleListCmd())
	c.AddCommand(newPeopleEnrollCmd())
	c.AddCommand(newPeopleSampleCmd())
	c.AddCommand(newPeopleDeleteCmd())
	return c
}

func newPeopleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List enrolled people",
		RunE: func(cmd *cobra.Command, args []string) error {
			var people []personRecord
			if err := client.do("GET", "/people", nil, nil, &people); err != nil {
				return err
			}
			for _, p := range people {
				out.Statusf("", "%-6d %s", p.ID, p.Name)
			}
			return nil
		},
	}
}

func newPeopleEnrollCmd() *cobra.Command {
	var vecFile string
	c := &cobra.Command{
		Use:   "enroll [name]",
		Short: "Enroll a person from a reference face embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := loadVecFile(vecFile)
			if err != nil {
				return err
			}
			var person personRecord
			body := map[string]any{"name": args[0], "vec": vec}
			if err := client.do("POST", "/people", nil, body, &person); err != nil {
				return err
			}
			out.Successf("enrolled %q as person %d", person.Name, person.ID)
			return nil
		},
	}
	c.Flags().StringVar(&vecFile, "vec-file", "", "path to a JSON array of the face embedding (required)")
	_ = c.MarkFlagRequired("vec-file")
	return c
}

func newPeopleSampleCmd() *cobra.Command {
	var vecFile string
	c := &cobra.Command{
		Use:   "add-sample [person-id]",
		Short: "Add another reference embedding to an enrolled person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := loadVecFile(vecFile)
			if err != nil {
				return err
			}
			body := map[string]any{"vec": vec}
			if err := client.do("POST", fmt.Sprintf("/people/%s/samples", args[0]), nil, body, nil); err != nil {
				return err
			}
			out.Success("sample added")
			return nil
		},
	}
	c.Flags().StringVar(&vecFile, "vec-file", "", "path to a JSON array of the face embedding (required)")
	_ = c.MarkFlagRequired("vec-file")
	return c
}

func newPeopleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [person-id]",
		Short: "Remove an enrolled person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("invalid person id %q", args[0])
			}
			if err := client.do("DELETE", fmt.Sprintf("/people/%s", args[0]), nil, nil, nil); err != nil {
				return err
			}
			out.Success("person removed")
			return nil
		},
	}
}
