package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/spec-kit/triage-service/internal/domain"
	"github.com/spec-kit/triage-service/internal/repository"
	"github.com/spec-kit/triage-service/internal/service"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base used as diagnosis context",
}

var kbImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Upsert reference articles from a JSON array",
	Long: `Each entry needs "source_ref" and "content"; "title" and "tags" are optional.
Articles with an existing source_ref are replaced. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runKBImport,
}

func init() {
	kbCmd.AddCommand(kbImportCmd)
}

type kbEntry struct {
	SourceRef string   `json:"source_ref"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
}

func readKBFile(r io.Reader) ([]domain.KnowledgeArticle, error) {
	var entries []kbEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	articles := make([]domain.KnowledgeArticle, 0, len(entries))
	for _, e := range entries {
		articles = append(articles, domain.KnowledgeArticle{
			SourceRef: e.SourceRef,
			Title:     e.Title,
			Content:   e.Content,
			Tags:      e.Tags,
		})
	}
	return articles, nil
}

func runKBImport(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	articles, err := readKBFile(in)
	if err != nil {
		return err
	}

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	pg, err := openPostgres(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	kb := service.NewKnowledgeService(repository.NewKnowledgeRepository(pg.PoolHandle()), logger)
	stored, err := kb.Import(cmd.Context(), articles)
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d articles imported\n", stored, len(articles))
	return err
}
