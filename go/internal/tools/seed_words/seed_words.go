package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/typeduel/go/internal/config"
	"github.com/mcdev12/typeduel/go/internal/pvp/room"
	"github.com/mcdev12/typeduel/go/internal/textgen"
)

// WordList mirrors the optional JSON file: words grouped by difficulty.
type WordList struct {
	Language string              `json:"language"`
	Words    map[string][]string `json:"words"`
}

func main() {
	file := flag.String("file", "", "optional JSON word list to load after the builtin lists")
	language := flag.String("language", textgen.DefaultLanguage, "language of the builtin lists")
	flag.Parse()

	ctx := context.Background()

	// 1) Collect the builtin lists and the optional file
	lists := []WordList{{Language: *language, Words: map[string][]string{}}}
	for _, d := range []room.Difficulty{room.DifficultyEasy, room.DifficultyMedium, room.DifficultyHard} {
		lists[0].Words[string(d)] = textgen.BuiltinWords(string(d))
	}
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
			os.Exit(1)
		}
		var extra WordList
		if err := json.Unmarshal(data, &extra); err != nil {
			fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
			os.Exit(1)
		}
		if extra.Language == "" {
			extra.Language = *language
		}
		lists = append(lists, extra)
	}

	// 2) Connect using the shared database settings
	cfg, err := config.Read(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS `+textgen.DictionaryTable+` (
          word       TEXT NOT NULL,
          difficulty TEXT NOT NULL,
          language   TEXT NOT NULL,
          PRIMARY KEY (word, difficulty, language)
        )
    `); err != nil {
		fmt.Fprintf(os.Stderr, "create table: %v\n", err)
		os.Exit(1)
	}

	// 3) Insert and count
	var total, inserted, skipped, errs int
	for _, list := range lists {
		for difficulty, words := range list.Words {
			for _, w := range words {
				w = strings.TrimSpace(w)
				if w == "" {
					continue
				}
				total++
				cmdTag, err := pool.Exec(ctx, `
                    INSERT INTO `+textgen.DictionaryTable+` (word, difficulty, language)
                    VALUES ($1, $2, $3)
                    ON CONFLICT DO NOTHING
                `, w, difficulty, list.Language)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error inserting word %q: %v\n", w, err)
					errs++
					continue
				}
				if cmdTag.RowsAffected() == 1 {
					inserted++
				} else {
					skipped++
				}
			}
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Words seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
