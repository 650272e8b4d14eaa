package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/calendar"
	appLog "taskcal/internal/log"
	"taskcal/internal/reminder"
	"taskcal/internal/store"
	"taskcal/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		conf.Listen = serveListen
	}

	appLog.Info("taskcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"db_path", conf.DBPath,
		"users", len(conf.Users),
		"max_tasks", conf.Calendar.MaxTasks,
		"reminders", conf.Reminder.Enabled,
	)

	st, err := store.New(conf.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	loc := conf.Location()
	cal := calendar.NewService(st, calendar.Options{
		Location:       loc,
		MaxTasks:       conf.Calendar.MaxTasks,
		MaxOccurrences: conf.Calendar.MaxOccurrencesPerTask,
	})

	queue := reminder.NewQueue()
	var rem *reminder.Service
	if conf.Reminder.Enabled {
		rem, err = reminder.NewService(st, queue, reminder.Options{
			Schedule: conf.Reminder.ScanCron,
			Ahead:    time.Duration(conf.Reminder.MinutesBefore) * time.Minute,
			Location: loc,
		})
		if err != nil {
			return err
		}
		rem.Start()
	}

	srv := web.NewServer(conf, st, cal, queue).HTTPServer()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err)
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rem != nil {
		rem.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("taskcal exiting")
	return nil
}
