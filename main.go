// Command cosmos is an example host binary driving the mail engine's
// facade: register an account, run a sync, and query the local replica
// from the command line, the way outtake's main.go drove lib.Gmail.Sync
// directly but generalized from "one label, one sync" to the facade's
// full account/thread/search surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hunterclarke/cosmos/lib/credential/oauthdemo"
	"github.com/hunterclarke/cosmos/lib/facade"
	"github.com/hunterclarke/cosmos/lib/model"
	"github.com/hunterclarke/cosmos/lib/remote"
)

const progressUpdateFreqSecs = 2.0

func main() {
	app := &cli.App{
		Name:    "cosmos",
		Usage:   "Offline-first Gmail replica: sync, list, and search a local mailbox copy.",
		Version: "0.0.1",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory holding mail.db, blobs/, and search.idx.",
				Value: defaultDataDir(),
			},
		},
		Commands: []*cli.Command{
			registerCommand,
			syncCommand,
			listCommand,
			searchCommand,
			archiveCommand,
			trashCommand,
			readCommand,
			starCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cosmos"
	}
	return home + "/.cosmos"
}

// openFacade wires a Facade against the live Gmail API using the demo
// browser-OAuth credential port, mirroring outtake's single hard-coded
// lib/gmail.NewGmail call but going through credential.Port instead of
// reaching for OAuth directly.
func openFacade(ctx context.Context, c *cli.Context) (*facade.Facade, error) {
	dir := c.String("data-dir")
	if err := os.MkdirAll(dir, 0766); err != nil {
		return nil, err
	}
	creds := oauthdemo.New()
	rem := remote.NewGmailRemote(creds)
	return facade.New(ctx, facade.DefaultPaths(dir), rem)
}

func accountFlag() cli.Flag {
	return &cli.Uint64Flag{
		Name:     "account",
		Usage:    "Local account ID (see `cosmos register`/`cosmos accounts`).",
		Required: true,
	}
}

var registerCommand = &cli.Command{
	Name:      "register",
	Usage:     "Register a new local account.",
	ArgsUsage: "<email>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: cosmos register <email>", 1)
		}
		ctx := context.Background()
		f, err := openFacade(ctx, c)
		if err != nil {
			return err
		}
		defer f.Close()
		acct, err := f.RegisterAccount(ctx, c.Args().Get(0), c.Args().Get(0), "#4285f4")
		if err != nil {
			return err
		}
		fmt.Printf("Registered account %d (%s)\n", acct.ID, acct.Email)
		return nil
	},
}

var syncCommand = &cli.Command{
	Name:  "sync",
	Usage: "Sync one account: snapshot on first run, incremental thereafter.",
	Flags: []cli.Flag{accountFlag()},
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		f, err := openFacade(ctx, c)
		if err != nil {
			return err
		}
		defer f.Close()

		progress := make(chan model.ProgressEvent)
		done := make(chan struct{})
		go func() {
			defer close(done)
			last := time.Time{}
			for p := range progress {
				if time.Since(last).Seconds() < progressUpdateFreqSecs {
					continue
				}
				last = time.Now()
				if p.Total > 0 {
					fmt.Printf("\r%s: %d/%d  ", p.Phase, p.Processed, p.Total)
				} else {
					fmt.Printf("\r%s: %d fetched  ", p.Phase, p.Fetched)
				}
			}
		}()

		account := model.AccountID(c.Uint64("account"))
		stats, err := f.SyncAccount(ctx, account, progress)
		close(progress)
		<-done
		fmt.Println()
		if err != nil {
			return err
		}
		fmt.Printf("created=%d updated=%d skipped=%d errors=%d\n",
			stats.MessagesCreated, stats.MessagesUpdated, stats.MessagesSkipped, stats.Errors)
		return nil
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "List threads, optionally filtered by label.",
	Flags: []cli.Flag{
		accountFlag(),
		&cli.StringFlag{Name: "label", Usage: "Filter to a single label, e.g. INBOX."},
		&cli.IntFlag{Name: "limit", Value: 20},
	},
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		f, err := openFacade(ctx, c)
		if err != nil {
			return err
		}
		defer f.Close()

		account := model.AccountID(c.Uint64("account"))
		var label *model.LabelID
		if l := c.String("label"); l != "" {
			id := model.LabelID(l)
			label = &id
		}
		threads, err := f.ListThreads(ctx, &account, label, c.Int("limit"), 0)
		if err != nil {
			return err
		}
		for _, t := range threads {
			flag := " "
			if t.IsUnread {
				flag = "U"
			}
			fmt.Printf("[%s] %-20s %s — %s\n", flag, t.ID, t.SenderName, t.Subject)
		}
		return nil
	},
}

var searchCommand = &cli.Command{
	Name:      "search",
	Usage:     "Search the local index.",
	ArgsUsage: "<query>",
	Flags:     []cli.Flag{accountFlag(), &cli.IntFlag{Name: "limit", Value: 20}},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: cosmos search <query>", 1)
		}
		ctx := context.Background()
		f, err := openFacade(ctx, c)
		if err != nil {
			return err
		}
		defer f.Close()

		account := model.AccountID(c.Uint64("account"))
		results, err := f.Search(ctx, &account, c.Args().Get(0), c.Int("limit"))
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.2f  %-20s %s\n", r.Score, r.ID, r.Subject)
		}
		return nil
	},
}

func threadAction(name string, run func(ctx context.Context, f *facade.Facade, account model.AccountID, threadID string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		ArgsUsage: "<thread-id>",
		Flags:     []cli.Flag{accountFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit(fmt.Sprintf("usage: cosmos %s <thread-id>", name), 1)
			}
			ctx := context.Background()
			f, err := openFacade(ctx, c)
			if err != nil {
				return err
			}
			defer f.Close()
			account := model.AccountID(c.Uint64("account"))
			return run(ctx, f, account, c.Args().Get(0))
		},
	}
}

var archiveCommand = threadAction("archive", func(ctx context.Context, f *facade.Facade, account model.AccountID, threadID string) error {
	return f.ArchiveThread(ctx, account, threadID)
})

var trashCommand = threadAction("trash", func(ctx context.Context, f *facade.Facade, account model.AccountID, threadID string) error {
	return f.TrashThread(ctx, account, threadID)
})

var starCommand = threadAction("star", func(ctx context.Context, f *facade.Facade, account model.AccountID, threadID string) error {
	starred, err := f.ToggleStar(ctx, account, threadID)
	if err != nil {
		return err
	}
	fmt.Println("starred:", starred)
	return nil
})

var readCommand = &cli.Command{
	Name:      "read",
	Usage:     "Mark a thread read or unread.",
	ArgsUsage: "<thread-id> <true|false>",
	Flags:     []cli.Flag{accountFlag()},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: cosmos read <thread-id> <true|false>", 1)
		}
		read, err := strconv.ParseBool(c.Args().Get(1))
		if err != nil {
			return cli.Exit("second argument must be true or false", 1)
		}
		ctx := context.Background()
		f, err := openFacade(ctx, c)
		if err != nil {
			return err
		}
		defer f.Close()
		account := model.AccountID(c.Uint64("account"))
		return f.SetRead(ctx, account, c.Args().Get(0), read)
	},
}
