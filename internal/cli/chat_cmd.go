package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wolfman30/movement-intake/internal/intake"
	"github.com/wolfman30/movement-intake/internal/session"
)

func newChatCmd(app *App, open func(*cobra.Command) error) *cobra.Command {
	var page string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume a conversation",
		Long:  "Start or resume a conversation. Type /reset to start over and /quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := open(cmd); err != nil {
				return err
			}
			if app.NewModel == nil {
				return errors.New("no language model configured")
			}
			ctx := cmd.Context()
			model, err := app.NewModel(ctx)
			if err != nil {
				return fmt.Errorf("creating model client: %w", err)
			}
			orch, err := intake.New(intake.Options{
				Model:    model,
				Profile:  app.Profile,
				Settings: app.Settings,
				Logger:   app.Logger,
			})
			if err != nil {
				return err
			}

			meta := session.Metadata{PageContext: pageContext(page), ClientInfo: "intakectl"}
			deps := app.deps()
			sess := session.LoadOrCreate(ctx, app.visitor(), meta, deps)
			if _, err := orch.Greet(ctx, sess); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTranscript(out, app.assistantName(), sess.Messages())
			printSuggestions(out, orch.View(sess).SuggestedQuestions)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				case "/reset":
					sess.Clear(ctx)
					if _, err := orch.Greet(ctx, sess); err != nil {
						return err
					}
					printTranscript(out, app.assistantName(), sess.Messages())
					printSuggestions(out, orch.View(sess).SuggestedQuestions)
					continue
				}

				turn, err := orch.HandleUserTurn(ctx, sess, line)
				if errors.Is(err, session.ErrExpired) {
					fmt.Fprintln(out, "(your previous conversation expired, starting fresh)")
					sess = session.LoadOrCreate(ctx, app.visitor(), meta, deps)
					if _, err := orch.Greet(ctx, sess); err != nil {
						return err
					}
					turn, err = orch.HandleUserTurn(ctx, sess, line)
				}
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}

				fmt.Fprintf(out, "%s: %s\n", app.assistantName(), turn.Reply.Content)
				if turn.SuggestBooking {
					fmt.Fprintln(out, "[ready to book a free intro session]")
				}
				printSuggestions(out, turn.SuggestedQuestions)
			}
		},
	}

	cmd.Flags().StringVar(&page, "page", "home", "page context (home, about, programs, contact, services)")

	return cmd
}

func pageContext(page string) session.PageContext {
	p := session.PageContext(strings.ToLower(strings.TrimSpace(page)))
	if p.Valid() {
		return p
	}
	return session.DetectPageContext(page)
}

func (a *App) assistantName() string {
	if a.Profile != nil && a.Profile.AssistantName != "" {
		return a.Profile.AssistantName
	}
	return "assistant"
}

func printTranscript(w io.Writer, assistant string, msgs []session.Message) {
	for _, m := range msgs {
		who := "you"
		if m.Role == session.RoleAssistant {
			who = assistant
		}
		fmt.Fprintf(w, "%s: %s\n", who, m.Content)
	}
}

func printSuggestions(w io.Writer, questions []string) {
	for i, q := range questions {
		fmt.Fprintf(w, "  (%d) %s\n", i+1, q)
	}
}
