package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"drawing-board/internal/config"
	"drawing-board/internal/session"
	"drawing-board/internal/termui"
)

func main() {
	defaults := config.LoadClient()

	serverAddr := flag.String("server", defaults.ServerHost, "Server host:port")
	roomID := flag.String("room", defaults.RoomID, "Room to join, empty asks the server for a new one")
	name := flag.String("name", defaults.DisplayName, "Display name")
	reconnect := flag.Bool("reconnect", defaults.Reconnect, "Reconnect automatically when the connection drops")
	exportFile := flag.String("export", "board.png", "File the save key writes, .png or .svg")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	logFile := flag.String("logfile", "client.log", "Log file path")
	flag.Parse()

	if *debugMode {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	} else {
		log.SetOutput(io.Discard)
	}

	if *roomID == "" {
		id, err := createRoom(*serverAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create a room: %v\n", err)
			os.Exit(1)
		}
		*roomID = id
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create screen: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize screen: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()
	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorReset).Foreground(tcell.ColorReset))

	board := termui.New(screen, *roomID, *name)
	board.SetExportFile(*exportFile)
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	sess := session.New(session.Config{
		ServerURL:    u.String(),
		RoomID:       *roomID,
		DisplayName:  *name,
		Reconnect:    *reconnect,
		HistoryLimit: defaults.HistoryLimit,
		Renderer:     board,
		Observer:     board,
	})
	board.Attach(sess)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		err := sess.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Session ended: %v", err)
			board.Notify(err.Error())
		}
	}()

	board.Run(ctx)
	cancel()
	sess.Close()
}

// createRoom asks the server for a fresh room code
func createRoom(serverAddr string) (string, error) {
	u := url.URL{Scheme: "http", Host: serverAddr, Path: "/api/rooms"}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(u.String(), "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.RoomID, nil
}
