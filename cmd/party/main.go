// party 是一个终端客户端，直接连接共享的 Redis 房间存储。
//
//	party -name Alice            创建房间
//	party -name Bob -join AB12CD 加入房间
//
// 房间内输入普通文本发送聊天，斜杠命令见 /help。
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"movienights/internal/bootstrap"
	"movienights/internal/client"
	"movienights/internal/domain"
	"movienights/internal/identity"
)

const helpText = `commands:
  /url <link>     set the video (remote holder only)
  /play /pause    change playback (remote holder only)
  /pass <id>      hand the remote to a participant
  /take           take the remote back (host only)
  /react <emoji>  send a reaction
  /who            list participants
  /leave          leave the room and quit`

func main() {
	name := flag.String("name", "", "display name")
	join := flag.String("join", "", "room code to join; empty creates a room")
	dbPath := flag.String("identity", defaultIdentityPath(), "local identity database")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if cfg.StoreBackend != bootstrap.BackendRedis {
		logrus.Fatal("party needs STORE_BACKEND=redis to share rooms with other processes")
	}
	bootstrap.NewLogger(cfg)
	logrus.SetLevel(logrus.WarnLevel)

	provider, err := identity.NewSQLiteProvider(*dbPath)
	if err != nil {
		logrus.Fatalf("Failed to open identity store: %v", err)
	}
	defer provider.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	me, err := identity.Ensure(ctx, provider, *name)
	if err != nil {
		logrus.Fatalf("Failed to resolve identity: %v", err)
	}

	stores, err := bootstrap.OpenStores(cfg)
	if err != nil {
		logrus.Fatalf("Failed to open room store: %v", err)
	}
	defer stores.Close()
	services := bootstrap.NewServices(cfg, stores, nil)

	lobby := make(chan struct{}, 1)
	session := client.NewSession(services.ClientBackend(stores), *me,
		client.OnChange(func(room *domain.Room) { printRoom(me.ParticipantID, room) }),
		client.OnLobby(func() {
			fmt.Println("* the room is gone")
			lobby <- struct{}{}
		}),
	)

	if *join == "" {
		code, err := session.Create(ctx)
		if err != nil {
			logrus.Fatalf("Failed to create room: %v", err)
		}
		fmt.Printf("* room %s created, you are %s (%s)\n", code, me.DisplayName, me.ParticipantID)
	} else if err := session.Join(ctx, *join); err != nil {
		logrus.Fatalf("Failed to join room: %v", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	heartbeat := time.NewTicker(cfg.PresenceTTL / 3)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			leave(session)
			return
		case <-lobby:
			return
		case <-heartbeat.C:
			if room := session.Room(); room != nil {
				services.Presence.Touch(ctx, room.Code, me.ParticipantID)
			}
		case line, ok := <-lines:
			if !ok {
				leave(session)
				return
			}
			if quit := handleLine(ctx, session, line); quit {
				leave(session)
				return
			}
		}
	}
}

func handleLine(ctx context.Context, s *client.Session, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		report(s.Chat(ctx, line))
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/url":
		report(s.SetVideoURL(ctx, arg))
	case "/play":
		report(s.SetPlaying(ctx, true))
	case "/pause":
		report(s.SetPlaying(ctx, false))
	case "/pass":
		report(s.PassRemote(ctx, arg))
	case "/take":
		report(s.TakeBack(ctx))
	case "/react":
		report(s.React(ctx, arg))
	case "/who":
		if room := s.Room(); room != nil {
			for _, p := range room.ParticipantList() {
				fmt.Printf("  %s  %s\n", p.ID, p.Name)
			}
		}
	case "/leave":
		return true
	default:
		fmt.Println(helpText)
	}
	return false
}

func leave(s *client.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Leave(ctx); err != nil && !errors.Is(err, client.ErrNotInRoom) {
		logrus.WithError(err).Warn("Failed to leave room")
	}
}

func report(err error) {
	if err != nil {
		fmt.Printf("! %v\n", err)
	}
}

func printRoom(me string, room *domain.Room) {
	events := domain.Materialize(room.Events)
	if len(events) > 0 {
		last := events[len(events)-1]
		switch last.Type {
		case domain.EventChat:
			fmt.Printf("<%s> %s\n", last.UserName, last.Text)
		case domain.EventReaction:
			fmt.Printf("<%s> %s\n", last.UserName, last.Emoji)
		default:
			fmt.Printf("* %s\n", last.Text)
		}
	}
	state := "paused"
	if room.IsPlaying {
		state = "playing"
	}
	remote := ""
	if room.ControllerID == me {
		remote = " [you have the remote]"
	}
	fmt.Printf("  [%s %s %s]%s\n", room.Code, state, room.ContentURL, remote)
}

func defaultIdentityPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "movienights.db"
	}
	return filepath.Join(dir, "movienights", "identity.db")
}
