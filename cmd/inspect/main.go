// Command inspect dumps badger rows as a table for offline debugging.
// The server must be stopped, the store is opened read-only.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Chat", "Seq", "Detail"})
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

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				table.Append(describe(string(item.Key()), v))
				count++
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
	fmt.Printf("\n%s rows for prefix %s\n",
		color.Green.Sprint(count), color.Cyan.Sprint(*prefix))
}

// describe renders one row for the table, understanding the message,
// chat, agent, membership and counter key families.
func describe(key string, val []byte) []string {
	parts := strings.Split(key, ":")

	switch parts[0] {
	case "msg":
		if len(parts) == 3 {
			var stored struct {
				SenderID string    `json:"sender_id"`
				Content  string    `json:"content"`
				SentAt   time.Time `json:"sent_at"`
			}
			if err := json.Unmarshal(val, &stored); err == nil {
				seq, _ := strconv.ParseUint(parts[2], 10, 64)
				return []string{
					key,
					color.Yellow.Sprint("MESSAGE"),
					stored.SentAt.Format("15:04:05"),
					shorten(parts[1]),
					strconv.FormatUint(seq, 10),
					shorten(stored.SenderID) + ": " + truncate(stored.Content, 60),
				}
			}
		}
	case "chat":
		var stored struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(val, &stored); err == nil && len(parts) == 2 {
			return []string{
				key,
				color.Cyan.Sprint("CHAT"),
				"--:--:--",
				shorten(parts[1]),
				"-",
				stored.Name + " (" + stored.Type + ")",
			}
		}
	case "agent":
		var stored struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(val, &stored); err == nil && len(parts) == 2 {
			return []string{
				key,
				color.Green.Sprint("AGENT"),
				"--:--:--",
				"-",
				"-",
				stored.Name,
			}
		}
	case "member":
		if len(parts) == 3 {
			return []string{
				key,
				color.Magenta.Sprint("MEMBER"),
				"--:--:--",
				shorten(parts[1]),
				"-",
				"agent " + shorten(parts[2]),
			}
		}
	case "seq":
		if len(parts) == 2 && len(val) == 8 {
			var seq uint64
			for _, b := range val {
				seq = seq<<8 | uint64(b)
			}
			return []string{
				key,
				color.Blue.Sprint("COUNTER"),
				"--:--:--",
				shorten(parts[1]),
				strconv.FormatUint(seq, 10),
				"tail sequence",
			}
		}
	}

	return []string{key, "RAW", "--:--:--", "-", "-",
		"Size: " + strconv.Itoa(len(val)) + " bytes"}
}

func shorten(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true).
		WithValueLogFileSize(10 * 1024 * 1024)

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Log truncate required") {
			// Open in write mode once to let badger truncate, then
			// reopen read-only.
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
