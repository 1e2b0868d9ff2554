package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ustream/configs"
	"ustream/internal/codec"
	"ustream/internal/frame"
	"ustream/internal/link"
	"ustream/server"
)

const shutdownTimeout = 30 * time.Second

func usage() {
	fmt.Fprintf(os.Stderr, `usage:
  ustream caster   [-config path] [-port n]
  ustream receiver [-config path] -target ip[:port] [-snapshot file]
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	mode, err := ParseMode(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}

	switch mode {
	case ModeCaster:
		err = runCaster(os.Args[2:])
	case ModeReceiver:
		err = runReceiver(os.Args[2:])
	}
	if err != nil {
		slog.Error("ustream exited with error", "mode", mode.String(), "error", err)
		os.Exit(1)
	}
}

func runCaster(args []string) error {
	fs := flag.NewFlagSet("caster", flag.ExitOnError)
	configFile := fs.String("config", "configs/config.yaml", "配置文件路径")
	port := fs.Int("port", 0, "推流TCP端口，0表示使用配置")
	_ = fs.Parse(args)

	cfg, v, err := configs.Load(*configFile)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	server.SetupLogging(cfg.Log.Level)

	s, err := server.NewServerWithConfig(&cfg, nil)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// 配置文件存在时热加载推流控制项
	if _, err := os.Stat(*configFile); err == nil {
		configs.WatchControls(v, s.ApplyControls)
	}

	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	slog.Info("caster running", "tcp", s.TCPAddr().String(), "http", s.HTTPAddr().String())

	// 优雅地关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func runReceiver(args []string) error {
	fs := flag.NewFlagSet("receiver", flag.ExitOnError)
	configFile := fs.String("config", "configs/config.yaml", "配置文件路径")
	target := fs.String("target", "", "caster地址，ip 或 host:port")
	snapshot := fs.String("snapshot", "", "退出时把最后一帧写成PNG")
	_ = fs.Parse(args)

	if *target == "" {
		usage()
		os.Exit(2)
	}

	cfg, _, err := configs.Load(*configFile)
	if err != nil {
		return err
	}
	server.SetupLogging(cfg.Log.Level)

	enc, err := codec.New(cfg.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := link.Connect(ctx, *target, enc, cfg.Client)
	if err != nil {
		return err
	}

	viewer := link.NewViewer(func(st link.ConnState, f *frame.Frame) {
		if f != nil && st.Connected {
			return
		}
		slog.Info("connection state changed", "state", st.String())
	})
	go viewer.Run(l.Events())

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("receiver interrupted")
			break loop
		case <-l.Done():
			break loop
		case <-ticker.C:
			frames, heartbeats := viewer.Stats()
			slog.Info("receiver stats", "frames", frames, "heartbeats", heartbeats, "state", viewer.State().String())
		}
	}

	l.Disconnect()
	select {
	case <-l.Done():
	case <-time.After(shutdownTimeout):
		slog.Warn("read loop did not stop before shutdown deadline")
	}

	frames, heartbeats := viewer.Stats()
	slog.Info("receiver finished", "frames", frames, "heartbeats", heartbeats, "state", viewer.State().String())

	if *snapshot != "" {
		if err := viewer.SnapshotPNG(*snapshot); err != nil && !errors.Is(err, link.ErrNoFrame) {
			return err
		}
	}
	return nil
}
