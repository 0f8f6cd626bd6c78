package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/edibez/cryptochat/internal/app"
	"github.com/edibez/cryptochat/internal/config"
	"github.com/edibez/cryptochat/internal/console"
	"github.com/edibez/cryptochat/internal/dialogue"
	"github.com/edibez/cryptochat/internal/markup"
)

func main() {
	// Keep the pipeline quiet; the terminal is for the conversation
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	slog.SetDefault(logger)

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	fmt.Println("Loading coin list...")
	a.Start(ctx)

	session := dialogue.NewController(a.Orchestrator, dialogue.WithRecorder(a.Stats), dialogue.WithLogger(logger))
	defer func() {
		session.Close()
		session.Wait()
	}()

	fmt.Println(boldCyan("CryptoBot:"))
	console.Render(os.Stdout, markup.Parse(session.Messages()[0].Text))
	fmt.Println()
	fmt.Println("Try one of:")
	for _, p := range session.QuickPrompts() {
		fmt.Printf("  %s\n", p)
	}
	fmt.Println("Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print(boldGreen("You: "))

		var input string
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			input = line
		}

		if strings.ToLower(strings.TrimSpace(input)) == "exit" {
			return
		}

		reply, err := session.Submit(ctx, input)
		switch {
		case errors.Is(err, dialogue.ErrEmptyInput):
			continue
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		fmt.Println(boldCyan("CryptoBot:"))
		console.Render(os.Stdout, markup.Parse(reply))
		fmt.Println()
	}
}
