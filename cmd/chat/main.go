// Command chat is a terminal client for the chat API.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"gopherchat/internal/client"
)

func main() {
	_ = godotenv.Load()

	server := flag.String("server", envOr("CHAT_SERVER", "http://127.0.0.1:8080"), "API base URL")
	username := flag.String("user", os.Getenv("CHAT_USER"), "username")
	password := flag.String("password", os.Getenv("CHAT_PASSWORD"), "password")
	email := flag.String("email", "", "register a new account with this email before logging in")
	chatFlag := flag.String("chat", "", "chat id to open; empty to pick or create one")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	api := client.New(*server, nil)
	in := bufio.NewScanner(os.Stdin)

	if err := authenticate(ctx, api, in, *username, *password, *email); err != nil {
		color.Red("login failed: %v", err)
		os.Exit(1)
	}

	chatID, err := pickChat(ctx, api, in, *chatFlag)
	if err != nil {
		color.Red("open chat failed: %v", err)
		os.Exit(1)
	}

	conv := client.NewConversation(api, chatID)
	if err := conv.Load(ctx); err != nil {
		color.Red("load history failed: %v", err)
		os.Exit(1)
	}
	for _, m := range conv.Messages() {
		printMessage(m)
	}

	color.Cyan("chat %s, empty line or Ctrl-D to quit", chatID)
	for {
		fmt.Print(color.GreenString("> "))
		if !in.Scan() {
			return
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			return
		}

		err := conv.Submit(ctx, text, func(chunk string) { fmt.Print(chunk) })
		fmt.Println()
		switch {
		case err == nil:
		case client.IsStatus(err, 409):
			color.Yellow("still answering the previous message, try again")
		case client.IsStatus(err, 429):
			color.Yellow("rate limited, wait a moment")
		default:
			color.Red("send failed: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func authenticate(ctx context.Context, api *client.Client, in *bufio.Scanner, username, password, email string) error {
	if username == "" {
		username = prompt(in, "username")
	}
	if password == "" {
		password = prompt(in, "password")
	}
	if email != "" {
		if _, err := api.Register(ctx, username, email, password); err != nil && !client.IsStatus(err, 400) {
			return err
		}
	}
	_, err := api.Login(ctx, username, password)
	return err
}

func pickChat(ctx context.Context, api *client.Client, in *bufio.Scanner, raw string) (uuid.UUID, error) {
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid chat id %q", raw)
		}
		if _, err := api.GetChat(ctx, id); err != nil {
			return uuid.Nil, err
		}
		return id, nil
	}

	chats, err := api.ListChats(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for i, c := range chats {
		fmt.Printf("%3d  %s  %s\n", i+1, c.DisplayName, color.HiBlackString(c.CreatedAt.Format("2006-01-02 15:04")))
	}

	choice := prompt(in, "chat number (empty for a new chat)")
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(chats) {
		return chats[n-1].ID, nil
	}
	return api.CreateChat(ctx, "")
}

func printMessage(m client.LocalMessage) {
	switch m.Role {
	case "user":
		fmt.Println(color.GreenString("> ") + m.Content)
	default:
		fmt.Println(m.Content)
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(color.CyanString("%s: ", label))
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
