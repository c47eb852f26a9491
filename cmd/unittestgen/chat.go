package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/unittestgen/pkg/advisor"
	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
	"github.com/go-go-golems/unittestgen/pkg/prompts"
	"github.com/go-go-golems/unittestgen/pkg/session"
	"github.com/go-go-golems/unittestgen/pkg/ui"
)

const chatTopic = "chat"

type chatSettings struct {
	ShowToolResults bool
	HTMLStatus      bool
	DumpEvents      string
	PrintEvents     bool
	SaveDir         string
	NoTUI           bool
	MaxIterations   int
}

func newChatCommand() *cobra.Command {
	s := &chatSettings{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the unit test advisor",
		Long: "Chat with the unit test advisor. The advisor can list, read and write " +
			"C# files and generate unit tests for code you paste.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), s)
		},
	}
	cmd.Flags().BoolVar(&s.ShowToolResults, "show-tool-results", false, "Show tool results in the transcript")
	cmd.Flags().BoolVar(&s.HTMLStatus, "html-status", false, "Format tool status notices as HTML")
	cmd.Flags().StringVar(&s.DumpEvents, "dump-events", "", "Write every inference event as JSON to this file")
	cmd.Flags().BoolVar(&s.PrintEvents, "print-events", false, "Print the raw inference stream and tool calls to stderr")
	cmd.Flags().StringVar(&s.SaveDir, "save-dir", ".", "Directory ctrl+s saves the history to")
	cmd.Flags().BoolVar(&s.NoTUI, "no-tui", false, "Use line mode even on a terminal")
	cmd.Flags().IntVar(&s.MaxIterations, "max-iterations", 5, "Maximum number of model calls per exchange")
	return cmd
}

func runChat(ctx context.Context, s *chatSettings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ss, err := stepSettingsForPrompt(viper.GetViper(), prompts.AdvisorPrompt)
	if err != nil {
		return err
	}

	useTUI := !s.NoTUI && isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
	if useTUI {
		initLogger(true)
	}

	routerOptions := []events.EventRouterOption{
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	}
	var dumpFile *os.File
	if s.DumpEvents != "" {
		dumpFile, err = os.Create(s.DumpEvents)
		if err != nil {
			return errors.Wrap(err, "could not create event dump file")
		}
		defer func() {
			_ = dumpFile.Close()
		}()
		routerOptions = append(routerOptions, events.WithDumpWriter(dumpFile))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	if dumpFile != nil {
		router.AddHandler("dump", chatTopic, router.DumpRawEvents)
	}
	if s.PrintEvents {
		router.AddHandler("printer", chatTopic, events.StepPrinterFunc("advisor", os.Stderr, true))
	}

	sink := inference.NewWatermillSink(router.Publisher, chatTopic)
	// service level events (transcript reset) carry a sequence number
	serviceEvents := events.NewPublisherManager()
	serviceEvents.SubscribePublisher(chatTopic, router.Publisher)

	engine, err := newEngine(ss, inference.WithSink(sink))
	if err != nil {
		return err
	}
	generateSettings, err := stepSettingsForPrompt(viper.GetViper(), prompts.UnitTestGenPrompt)
	if err != nil {
		return err
	}
	generateEngine, err := newEngine(generateSettings)
	if err != nil {
		return err
	}

	manager := conversation.NewManager(
		conversation.WithAutosave(viper.GetString("autosave"), "", viper.GetString("autosave-dir")),
	)

	var formatter advisor.StatusFormatter = advisor.MarkdownStatusFormatter{MaxResultLines: 10}
	if s.HTMLStatus {
		formatter = advisor.HTMLStatusFormatter{}
	}

	svc, err := advisor.NewService(engine,
		advisor.WithManager(manager),
		advisor.WithGenerateEngine(generateEngine),
		advisor.WithEventSink(serviceEvents),
		advisor.WithStatusFormatter(formatter),
		advisor.WithShowToolResults(s.ShowToolResults),
		advisor.WithToolConfig(tools.DefaultToolConfig().
			WithMaxIterations(s.MaxIterations).
			WithExecutionTimeout(5*time.Minute)),
	)
	if err != nil {
		return err
	}

	if useTUI {
		return runChatTUI(ctx, cancel, router, svc, manager, ss.Chat.EngineOr(""), s)
	}
	return runChatLines(ctx, cancel, router, svc, os.Stdin, os.Stdout)
}

func runChatTUI(
	ctx context.Context,
	cancel context.CancelFunc,
	router *events.EventRouter,
	svc *advisor.Service,
	manager *conversation.ManagerImpl,
	model string,
	s *chatSettings,
) error {
	forwarder := ui.NewTranscriptForwarder()
	reconciler := conversation.NewReconciler(conversation.WithChangeListener(forwarder.Listen))
	sess := session.NewSession(reconciler, svc)

	options := []ui.ModelOption{
		ui.WithSaveFunc(func() (string, error) {
			path := filepath.Join(s.SaveDir,
				fmt.Sprintf("unittestgen-%s.json", time.Now().Format("20060102-150405")))
			return path, manager.SaveToFile(path)
		}),
	}
	codec, err := helpers.GetCodec(model)
	if err != nil {
		log.Warn().Err(err).Msg("token counting disabled")
	} else {
		options = append(options, ui.WithTokenCodec(codec))
	}

	p := tea.NewProgram(
		ui.NewModel(ctx, sess, options...),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(), // turn on mouse support so we can track the mouse wheel
		tea.WithContext(ctx),
	)

	router.AddEventHandler("ui", chatTopic, func(ev events.Event) error {
		switch e := ev.(type) {
		case *events.EventTranscriptReset:
			p.Send(ui.ResetMsg{})
		case *events.EventError:
			log.Warn().Str("error", e.ErrorString).Msg("inference error")
		}
		return nil
	})

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		return forwarder.Run(ctx, p.Send)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		_, err := p.Run()
		if sess.IsRunning() {
			_ = sess.Cancel()
			_ = sess.Wait()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	return eg.Wait()
}

// runChatLines is the chat without a terminal UI: every input line is one
// exchange. "/reset" resets the conversation, "/quit" ends it.
func runChatLines(
	ctx context.Context,
	cancel context.CancelFunc,
	router *events.EventRouter,
	svc *advisor.Service,
	in io.Reader,
	out io.Writer,
) error {
	printer := newTranscriptPrinter(out)
	reconciler := conversation.NewReconciler(
		conversation.WithChangeListener(printer.Update),
		conversation.WithResetListener(printer.Reset),
	)
	sess := session.NewSession(reconciler, svc)

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return chatLines(ctx, sess, in, out)
	})

	return eg.Wait()
}

func chatLines(ctx context.Context, sess *session.Session, in io.Reader, out io.Writer) error {
	run := func(h *session.ExecutionHandle, err error) error {
		if err != nil {
			return err
		}
		if err := h.Wait(); err != nil {
			_, _ = fmt.Fprintf(out, "[error]: %s\n", err)
		}
		return nil
	}

	if err := run(sess.Greet(ctx)); err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit":
			return nil
		case "/reset":
			if err := sess.Reset(); err != nil {
				return err
			}
			if err := run(sess.Greet(ctx)); err != nil {
				return err
			}
			continue
		}
		if err := run(sess.Submit(ctx, line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
