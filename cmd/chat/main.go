package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/mickgian/pratiko-chat/internal/api"
	"github.com/mickgian/pratiko-chat/internal/chatstate"
	"github.com/mickgian/pratiko-chat/internal/config"
	"github.com/mickgian/pratiko-chat/internal/controller"
	"github.com/mickgian/pratiko-chat/internal/hybrid"
	"github.com/mickgian/pratiko-chat/internal/localstore"
	"github.com/mickgian/pratiko-chat/internal/session"
	"github.com/mickgian/pratiko-chat/internal/stream"
	"github.com/mickgian/pratiko-chat/internal/telemetry"
	"github.com/mickgian/pratiko-chat/internal/usage"
)

const helpText = `Comandi disponibili:
  /utilizzo             mostra lo stato di utilizzo del piano
  /sessioni             elenca le conversazioni
  /nuova                apre una nuova conversazione
  /cambia <id>          passa alla conversazione indicata
  /rinomina <id> <nome> rinomina una conversazione
  /elimina <id>         elimina una conversazione
  /allega <file>        allega un documento alla prossima domanda
  /esci                 esce dal programma`

func main() {
	cfg := config.Load()

	logger, err := telemetry.InitLogger()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	_, _, cleanup, err := telemetry.InitTelemetry(context.Background())
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer cleanup()

	store, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}

	apiClient := api.NewClient(cfg.BaseURL, cfg.RequestTimeout)
	streamer := stream.NewHandler(stream.Config{BaseURL: cfg.BaseURL, Timeout: cfg.RequestTimeout})
	sessions := session.NewManager(apiClient, store, logger)
	tracker := usage.NewTracker(apiClient, logger)
	migrator := hybrid.NewMigrator(apiClient, store, logger)

	ctrl := controller.New(sessions, streamer, tracker, apiClient, store, migrator, logger)
	ctrl.SetObserver(func(a chatstate.Action, st chatstate.State) {
		switch act := a.(type) {
		case chatstate.AppendToken:
			fmt.Print(act.Delta)
		case chatstate.CompleteStream:
			fmt.Println()
		case chatstate.SetError:
			if act.Err != nil {
				fmt.Println("\n" + act.Err.MessageIT)
			}
		case chatstate.SetUsageLimit:
			fmt.Println("\nHai raggiunto il limite di utilizzo del tuo piano.")
			fmt.Println(usage.ResetLabel(act.Info.ResetInMinutes))
		}
	})

	ctx := context.Background()

	notice, err := ctrl.MountSession(ctx)
	if err != nil {
		logger.Warn("session mount failed", "error", err)
	}
	if notice != "" {
		fmt.Println(notice)
	}

	// Ctrl-C interrupts the in-flight answer instead of killing the REPL.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		for range sigs {
			ctrl.Cancel()
		}
	}()

	fmt.Println("PratikoAI — assistente fiscale. Digita /aiuto per i comandi.")
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if handleCommand(ctx, ctrl, line) {
			return
		}
	}
}

// handleCommand runs one input line and reports whether the REPL should
// exit.
func handleCommand(ctx context.Context, ctrl *controller.Controller, line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/esci":
		return true

	case "/aiuto":
		fmt.Println(helpText)

	case "/sessioni":
		sessions, err := ctrl.Sessions(ctx)
		if err != nil {
			fmt.Println("Impossibile caricare le conversazioni:", err)
			return false
		}
		for _, s := range sessions {
			marker := " "
			if s.IsActive {
				marker = "*"
			}
			fmt.Printf("%s %s  %s (%d messaggi)\n", marker, s.ID, s.Name, s.MessageCount)
		}

	case "/nuova":
		sess, err := ctrl.NewSession(ctx)
		if err != nil {
			fmt.Println("Impossibile creare la conversazione:", err)
			return false
		}
		fmt.Println("Nuova conversazione:", sess.ID)

	case "/cambia":
		if len(fields) < 2 {
			fmt.Println("Uso: /cambia <id>")
			return false
		}
		sess, err := ctrl.SwitchTo(ctx, fields[1])
		if err != nil {
			fmt.Println("Impossibile cambiare conversazione:", err)
			return false
		}
		fmt.Println("Conversazione attiva:", sess.Name)

	case "/rinomina":
		if len(fields) < 3 {
			fmt.Println("Uso: /rinomina <id> <nome>")
			return false
		}
		ctrl.Rename(ctx, fields[1], strings.Join(fields[2:], " "))
		fmt.Println("Conversazione rinominata.")

	case "/elimina":
		if len(fields) < 2 {
			fmt.Println("Uso: /elimina <id>")
			return false
		}
		repl, err := ctrl.Delete(ctx, fields[1])
		if err != nil {
			fmt.Println("Impossibile eliminare la conversazione:", err)
			return false
		}
		fmt.Println("Conversazione eliminata.")
		if repl != nil {
			fmt.Println("Nuova conversazione attiva:", repl.ID)
		}

	case "/allega":
		if len(fields) < 2 {
			fmt.Println("Uso: /allega <file>")
			return false
		}
		f, err := os.Open(fields[1])
		if err != nil {
			fmt.Println("Impossibile aprire il file:", err)
			return false
		}
		att, err := ctrl.Attach(ctx, filepath.Base(fields[1]), f)
		f.Close()
		if err != nil {
			fmt.Println("Caricamento non riuscito:", err)
			return false
		}
		fmt.Printf("Documento allegato: %s (%d byte)\n", att.Filename, att.Size)

	default:
		// /utilizzo short-circuits inside Send; every other line,
		// unrecognized commands included, goes to the assistant.
		dialog, err := ctrl.Send(ctx, line)
		if err != nil {
			fmt.Println(err)
			return false
		}
		if dialog != "" {
			fmt.Println(dialog)
		}
	}
	return false
}
