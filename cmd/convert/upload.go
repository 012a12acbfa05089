package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/tracker"
)

type uploadOptions struct {
	conversionType string
	email          string
	detach         bool
}

func newUploadCmd(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and wait for its conversion",
		Long: `Uploads the file with the requested conversion type, then follows the job
until it completes or fails. With --output-dir the converted file is saved
there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, root, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.conversionType, "type", "t", "", "conversion type: pdf_to_docx or docx_to_pdf (others are copied unchanged)")
	cmd.Flags().StringVar(&opts.email, "email", "", "address recorded with the job")
	cmd.Flags().BoolVar(&opts.detach, "detach", false, "print the task id and exit without waiting")
	return cmd
}

func runUpload(cmd *cobra.Command, root *rootOptions, opts *uploadOptions, file string) error {
	sess, err := root.open()
	if err != nil {
		return err
	}
	defer func() { _ = sess.logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := tracker.NewTerminalView(cmd.OutOrStdout(), root.noColor)
	ctrl := tracker.New(sess.client, view, tracker.Options{
		PollInterval:        sess.cfg.PollInterval(),
		ReconnectInitial:    time.Duration(sess.cfg.Reconnect.InitialMs) * time.Millisecond,
		ReconnectMax:        time.Duration(sess.cfg.Reconnect.MaxMs) * time.Millisecond,
		ReconnectMultiplier: sess.cfg.Reconnect.Multiplier,
		Logger:              sess.logger,
	})
	defer ctrl.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	if !opts.detach {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl.Run(ctx)
		}()
	}

	form := tracker.Form{ConversionType: opts.conversionType}
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open %s: %w", file, err)
		}
		defer f.Close()
		form.FileName = filepath.Base(file)
		form.File = f
	}
	if opts.email != "" {
		form.Fields = map[string]string{"email": opts.email}
	}

	if err := ctrl.Submit(ctx, form); err != nil {
		return fmt.Errorf("upload %s: %w", file, err)
	}
	if opts.detach {
		fmt.Fprintf(cmd.OutOrStdout(), "Task: %s\n", ctrl.TaskID())
		return nil
	}

	final, err := ctrl.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", ctrl.TaskID(), err)
	}
	if final.Status == convert.StatusFailed {
		return fmt.Errorf("conversion of %s failed", file)
	}
	if sess.cfg.OutputDir == "" {
		return nil
	}
	dst, err := save(ctx, ctrl, sess.cfg.OutputDir, final.FileName)
	if err != nil {
		return err
	}
	sess.logger.Info("converted file saved", zap.String("path", dst), zap.String("task_id", final.TaskID))
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", dst)
	return nil
}

func save(ctx context.Context, ctrl *tracker.Controller, dir, fileName string) (string, error) {
	name := path.Base(fileName)
	if name == "." || name == "/" || name == "" {
		return "", errors.New("service returned no file name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := ctrl.Download(ctx, f); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dst, err)
	}
	return dst, nil
}
