package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chatsync/internal/model"
	"github.com/capitalize-ai/chatsync/internal/restclient"
)

func init() {
	rootCmd.AddCommand(chatsCmd, messagesCmd)
	chatsCmd.AddCommand(chatsListCmd, chatsCreateCmd, chatsRenameCmd)

	chatsListCmd.Flags().Int("limit", 0, "page size (defaults to CHAT_PAGE_SIZE)")
	chatsListCmd.Flags().String("before", "", "cursor returned by a previous page")
	messagesCmd.Flags().Int("limit", 0, "page size (defaults to CHAT_PAGE_SIZE)")
	messagesCmd.Flags().String("before", "", "cursor returned by a previous page")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		page, err := e.rest.ListChats(context.Background(), pageParams(cmd, e.cfg.PageSize))
		if err != nil {
			return fmt.Errorf("list chats: %w", err)
		}

		if len(page.Items) == 0 {
			fmt.Println("No chats found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tLATEST\tCREATED")
		for _, c := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.ID,
				c.Name,
				truncate(c.LatestMessageContent, 40),
				c.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		printCursor(page.HasMore, page.Cursor())
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a chat",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		chat, err := e.rest.CreateChat(context.Background(), name)
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		fmt.Printf("Chat %s created (%s).\n", chat.ID, chat.Name)
		return nil
	},
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		name := args[1]
		chat, err := e.rest.UpdateChat(context.Background(), args[0], model.UpdateChatRequest{Name: &name})
		if err != nil {
			return fmt.Errorf("rename chat: %w", err)
		}
		fmt.Printf("Chat %s renamed to %q.\n", chat.ID, chat.Name)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Print one page of a chat's messages, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		page, err := e.rest.GetMessages(context.Background(), args[0], pageParams(cmd, e.cfg.PageSize))
		if err != nil {
			return fmt.Errorf("get messages: %w", err)
		}
		for i := len(page.Items) - 1; i >= 0; i-- {
			fmt.Println(formatMessage(page.Items[i]))
		}
		printCursor(page.HasMore, page.Cursor())
		return nil
	},
}

func pageParams(cmd *cobra.Command, defaultLimit int) restclient.PageParams {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = defaultLimit
	}
	before, _ := cmd.Flags().GetString("before")
	return restclient.PageParams{Limit: limit, Before: before}
}

func printCursor(hasMore bool, cursor string) {
	if hasMore {
		fmt.Printf("\nMore available: --before %s\n", cursor)
	}
}

func formatMessage(m model.Message) string {
	who := string(m.SenderType)
	if m.Kind != "" && m.Kind != model.KindText {
		who += "/" + string(m.Kind)
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04:05"), who, m.Content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
