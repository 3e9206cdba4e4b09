package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"prism-board/domain"
	"prism-board/storage"
)

func newInitStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the boards table or schema",
		Long:  "Creates the Azure table or migrates the SQL schema for the backend selected by BOARD_STORE. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := storage.Prepare(ctx, s); err != nil {
				return fmt.Errorf("prepare storage: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "storage ready")
			return nil
		},
	}
}

type seedCard struct {
	ID              string     `yaml:"id"`
	Title           string     `yaml:"title"`
	Description     string     `yaml:"description"`
	Author          string     `yaml:"author"`
	Assignee        string     `yaml:"assignee"`
	Deadline        *time.Time `yaml:"deadline"`
	Labels          []string   `yaml:"labels"`
	AttachmentCount int        `yaml:"attachmentCount"`
	Priority        *int       `yaml:"priority"`
}

// boardSeed is the YAML layout accepted by create-board --file.
type boardSeed struct {
	ProjectID string     `yaml:"projectId"`
	BoardName string     `yaml:"boardName"`
	Todo      []seedCard `yaml:"todo"`
	Doing     []seedCard `yaml:"doing"`
	Done      []seedCard `yaml:"done"`
	Archived  []seedCard `yaml:"archived"`
}

func (s boardSeed) build(now time.Time) (domain.Board, error) {
	key, err := domain.NewBoardKey(s.ProjectID, s.BoardName)
	if err != nil {
		return domain.Board{}, err
	}
	b := domain.NewBoard(key)
	lists := map[domain.Status][]seedCard{
		domain.StatusTodo:     s.Todo,
		domain.StatusDoing:    s.Doing,
		domain.StatusDone:     s.Done,
		domain.StatusArchived: s.Archived,
	}
	for _, status := range domain.Statuses {
		for _, c := range lists[status] {
			card := domain.Card{
				ID:              c.ID,
				Title:           c.Title,
				Description:     c.Description,
				Author:          c.Author,
				Assignee:        c.Assignee,
				Deadline:        c.Deadline,
				Labels:          c.Labels,
				AttachmentCount: c.AttachmentCount,
				Priority:        c.Priority,
			}
			if card.ID == "" || card.Title == "" {
				return domain.Board{}, fmt.Errorf("%s card needs an id and a title", status)
			}
			if err := domain.AddCard(&b, status, card, domain.PositionBottom); err != nil {
				return domain.Board{}, err
			}
		}
	}
	b.UpdatedAt = now
	return b, nil
}

func newCreateBoardCmd() *cobra.Command {
	var (
		file      string
		projectID string
		boardName string
	)
	cmd := &cobra.Command{
		Use:   "create-board",
		Short: "Create a board record",
		Long:  "Creates an empty board from --project/--board, or a populated one from a YAML seed file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := boardSeed{ProjectID: projectID, BoardName: boardName}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read seed: %w", err)
				}
				seed = boardSeed{}
				if err := yaml.Unmarshal(data, &seed); err != nil {
					return fmt.Errorf("parse seed %s: %w", file, err)
				}
			}
			b, err := seed.build(time.Now().UTC())
			if err != nil {
				return err
			}

			s, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := s.Create(ctx, b); err != nil {
				return fmt.Errorf("create board %s: %w", b.BoardKey, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created board %s with %d cards\n", b.BoardKey, len(b.Todo)+len(b.Doing)+len(b.Done)+len(b.Archived))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&boardName, "board", "", "board name")
	return cmd
}
