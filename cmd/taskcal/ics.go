package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/store"
)

var (
	icsUser string
	icsFile string
	icsURL  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import VEVENTs from an iCalendar file or URL as tasks",
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print a user's dated tasks as iCalendar",
	RunE:  runExport,
}

func init() {
	for _, c := range []*cobra.Command{importCmd, exportCmd} {
		c.Flags().StringVar(&icsUser, "user", "", "Owner of the tasks (defaults to config default_user)")
	}
	importCmd.Flags().StringVar(&icsFile, "file", "", "iCalendar file (- for stdin)")
	importCmd.Flags().StringVar(&icsURL, "url", "", "iCalendar feed URL")
	importCmd.MarkFlagsMutuallyExclusive("file", "url")
	importCmd.MarkFlagsOneRequired("file", "url")
}

func runImport(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	user := icsUser
	if user == "" {
		user = conf.DefaultUser
	}

	var body []byte
	if icsURL != "" {
		res, err := ics.NewFetcher(conf.ICSCacheDir, nil).FetchOne(cmd.Context(), icsURL)
		if err != nil {
			return fmt.Errorf("fetch feed: %w", err)
		}
		body = res.Body
	} else {
		if body, err = readInput(icsFile); err != nil {
			return err
		}
	}

	imported, err := ics.ParseICS(body, conf.Location())
	if err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}

	st, err := store.New(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var errs []error
	created := 0
	for _, it := range imported {
		t := it.Task
		t.UserID = user
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", it.UID, err))
			continue
		}
		if err := st.CreateTask(cmd.Context(), &t); err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", it.UID, err))
			continue
		}
		created++
	}

	appLog.Info("ics import finished", "user", user, "events", len(imported), "created", created, "failed", len(errs))
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d events\n", created, len(imported))
	return errors.Join(errs...)
}

func runExport(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	user := icsUser
	if user == "" {
		user = conf.DefaultUser
	}

	st, err := store.New(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.AllTasks(cmd.Context(), user)
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), ics.ExportICS(tasks, "taskcal "+user, time.Now()))
	return err
}
