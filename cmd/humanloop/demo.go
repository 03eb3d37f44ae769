package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/manager"
	"github.com/BaSui01/humanloop/provider/terminal"
	"github.com/BaSui01/humanloop/types"
)

// runDemo 在终端发起一次人机交互并阻塞等待结果
func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	message := fs.String("message", "Deploy to production?", "Question shown to the reviewer")
	loop := fs.String("loop", string(types.LoopTypeApproval), "Loop type: approval, information, conversation")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for an answer")
	task := fs.String("task", "demo", "Task ID")
	_ = fs.Parse(args)

	logger := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := manager.New(manager.WithLogger(logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	}()

	if _, err := m.RegisterProvider(terminal.New("terminal", terminal.WithLogger(logger)), "terminal"); err != nil {
		logger.Fatal("register terminal provider", zap.Error(err))
	}

	res, err := m.RequestAndWait(ctx, manager.RequestOptions{
		TaskID:         *task,
		ConversationID: fmt.Sprintf("%s-%d", *task, time.Now().Unix()),
		LoopType:       types.LoopType(*loop),
		Context: map[string]any{
			"message":  *message,
			"question": *message,
		},
		Metadata: map[string]any{"source": "humanloop demo"},
		Timeout:  *timeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "demo failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	if res.Status != types.StatusApproved && res.Status != types.StatusCompleted {
		os.Exit(2)
	}
}
