package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
)

type storedMessage struct {
	ID       string    `json:"id"`
	ChatID   string    `json:"chat_id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	At       time.Time `json:"at"`
}

type storedChat struct {
	ID      string   `json:"id"`
	IsGroup bool     `json:"is_group"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	// Default to "msg:" to avoid hitting the chatmember: index keys
	prefix := flag.String("prefix", "msg:", "Prefix to scan (msg: or chat:)")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Chat", "Sender", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			rawKey := string(item.Key())

			// Secondary index keys carry no payload worth rendering
			if strings.HasPrefix(rawKey, "chatmember:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				switch {
				case strings.HasPrefix(rawKey, "msg:"):
					var m storedMessage
					if err := json.Unmarshal(v, &m); err != nil {
						// Log and keep scanning instead of aborting the whole dump
						fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
						return nil
					}
					table.Append([]string{
						rawKey,
						"MESSAGE",
						m.At.Format("15:04:05"),
						m.ChatID,
						shortID(m.SenderID),
						m.Content,
					})
				case strings.HasPrefix(rawKey, "chat:"):
					var c storedChat
					if err := json.Unmarshal(v, &c); err != nil {
						fmt.Printf("Error unmarshaling key %s: %v\n", rawKey, err)
						return nil
					}
					kind := "DIRECT"
					if c.IsGroup {
						kind = "GROUP"
					}
					table.Append([]string{
						rawKey,
						kind,
						"",
						shortID(c.ID),
						"",
						fmt.Sprintf("%s [%s]", c.Name, strings.Join(c.Members, ",")),
					})
				default:
					table.Append([]string{rawKey, "RAW", "", "", "", fmt.Sprintf("%d bytes", len(v))})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}

// shortID keeps the first 8 characters of an identifier for readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	db, err := badger.Open(opts)
	if err != nil {
		// A dirty value log needs one write-mode open to truncate it
		if strings.Contains(err.Error(), "Log truncate required") {
			repairOpts := badger.DefaultOptions(path).
				WithLogger(nil).WithBypassLockGuard(true)

			db, err = badger.Open(repairOpts)
			if err != nil {
				return nil, fmt.Errorf("repair failed: %w", err)
			}

			db.Close()
			return badger.Open(opts)
		}
		return nil, err
	}
	return db, nil
}
