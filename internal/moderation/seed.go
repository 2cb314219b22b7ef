package moderation

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/nantokaworks/triad-arena/internal/localdb"
	"github.com/nantokaworks/triad-arena/internal/shared/logger"
	"go.uber.org/zap"
)

//go:embed defaults
var defaultWordLists embed.FS

// SeedDefaultWords loads the embedded word lists once per database.
func SeedDefaultWords() error {
	seeded, err := localdb.IsWordFilterSeeded()
	if err != nil {
		logger.Error("Failed to check word filter seeded status", zap.Error(err))
		return err
	}
	if seeded {
		return nil
	}

	words, err := readDefaultWords()
	if err != nil {
		return err
	}

	if len(words) > 0 {
		if err := localdb.BulkInsertWordFilterWords(words); err != nil {
			return fmt.Errorf("failed to bulk insert words: %w", err)
		}
		logger.Info("Seeded word filter", zap.Int("count", len(words)))
	}

	if err := localdb.MarkWordFilterSeeded(); err != nil {
		return fmt.Errorf("failed to mark word filter as seeded: %w", err)
	}
	return nil
}

// readDefaultWords walks defaults/<lang>/{Bad,Good}List.txt.
func readDefaultWords() ([]localdb.WordFilterWord, error) {
	var words []localdb.WordFilterWord

	err := fs.WalkDir(defaultWordLists, "defaults", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		var wordType string
		switch d.Name() {
		case "BadList.txt":
			wordType = "bad"
		case "GoodList.txt":
			wordType = "good"
		default:
			return nil
		}

		data, err := defaultWordLists.ReadFile(p)
		if err != nil {
			logger.Error("Failed to read embedded word list", zap.Error(err), zap.String("path", p))
			return nil
		}

		lang := path.Base(path.Dir(p))
		for _, line := range strings.Split(string(data), "\n") {
			if w := strings.TrimSpace(line); w != "" {
				words = append(words, localdb.WordFilterWord{Language: lang, Word: w, Type: wordType})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk embedded word lists: %w", err)
	}
	return words, nil
}
