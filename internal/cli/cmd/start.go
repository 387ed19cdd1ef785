package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matjam/kmsd/internal/cli/cmd/utils"
	"github.com/matjam/kmsd/internal/compose"
	"github.com/matjam/kmsd/internal/config"
	"github.com/matjam/kmsd/internal/dmabuf"
	"github.com/matjam/kmsd/internal/drm"
	"github.com/matjam/kmsd/internal/eventloop"
	"github.com/matjam/kmsd/internal/gpu"
	"github.com/matjam/kmsd/internal/ipc"
	"github.com/matjam/kmsd/internal/kms"
	"github.com/matjam/kmsd/internal/output"
	"github.com/matjam/kmsd/internal/session"
	"github.com/matjam/kmsd/internal/shell"
	"github.com/matjam/kmsd/internal/types"
	"github.com/matjam/kmsd/internal/udev"
	"github.com/matjam/kmsd/internal/wallpaper"
)

var ErrNoGPU = errors.New("no gpu with a render node found")

func NewStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the kmsd daemon",
		Long: `Takes control of the session, opens every GPU of the seat and keeps the
connected displays lit until stopped. With --background the daemon detaches
and logs to a rotating file in log_dir.`,
		Run: func(cmd *cobra.Command, args []string) {
			if viper.GetBool("background") {
				dctx := daemonContext()
				child, err := dctx.Reborn()
				if err != nil {
					log.Fatalf("Failed to start in the background: %v", err)
				}
				if child != nil {
					log.Infof("kmsd started in the background in PID %d", child.Pid)
					return
				}
				defer dctx.Release()
			}
			StartDaemon()
		},
	}
}

func daemonContext() *daemon.Context {
	logDir := utils.CanonicalPath(viper.GetString("log_dir"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("Error creating log directory: %v", err)
	}
	return &daemon.Context{
		PidFileName: filepath.Join(logDir, "kmsd.pid"),
		PidFilePerm: 0644,
		WorkDir:     "/",
		Umask:       027,
	}
}

// StartDaemon runs the backend until it is stopped over the control socket
// or by a signal.
func StartDaemon() {
	log.Infof("StartDaemon() started in PID: %d", os.Getpid())

	if daemon.WasReborn() {
		setupRotatingLogger()
	}

	socket := ipc.SocketPath()
	client := ipc.NewClient(socket)
	_, err := client.Status()
	client.Close()
	if err == nil {
		log.Infof("kmsd is already running, exiting")
		os.Exit(0)
	}

	signaler := session.NewSignaler()
	sess, err := session.NewLogind(signaler)
	if err != nil {
		log.Fatalf("Failed to take control of the session: %v", err)
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			log.Warnf("Failed to release the session: %v", err)
		}
	}()
	log.Infof("Session on %s, active: %t", sess.Seat(), sess.IsActive())

	lister := udev.NewLister(viper.GetString("seat"))
	primary, err := selectPrimaryGPU(viper.GetString("render_device"), lister, drm.RenderNodeFor)
	if err != nil {
		log.Fatalf("No usable GPU: %v", err)
	}
	log.Infof("Using %s as primary GPU", primary)

	store, err := config.Open(utils.CanonicalPath(viper.GetString("outputs_file")))
	if err != nil {
		log.Fatalf("Error loading output configuration: %v", err)
	}

	loop := eventloop.New[*kms.Backend](clockwork.NewRealClock())
	sh := shell.New()
	heads := output.NewRegistry()
	composer := compose.New(sh, viper.GetString("background_color"))
	wallpapers := newWallpapers(composer)
	dmabufs := dmabuf.NewRegistry()

	backend := kms.New(kms.Options{
		Loop:       loop,
		Session:    sess,
		Signaler:   signaler,
		Devices:    drm.Factory{},
		Lister:     lister,
		GPUs:       gpu.NewManager(),
		Primary:    primary,
		Composer:   composer,
		Shell:      sh,
		Heads:      heads,
		Config:     store,
		Sockets:    dmabufs,
		DisableVRR: !viper.GetBool("vrr"),
	})
	defer backend.Close()

	unsubscribe := heads.Subscribe(func(ev output.Event) {
		switch ev.Kind {
		case output.HeadAdded:
			log.Infof("Output %s added", ev.Output)
		case output.HeadRemoved:
			log.Infof("Output %s removed", ev.Output)
			composer.Forget(ev.Output)
		}
	})
	defer unsubscribe()

	stopWatch, err := store.Watch(func() {
		if err := store.Reload(); err != nil {
			log.Warnf("Ignoring edited output configuration: %v", err)
			return
		}
		loop.Post(func(b *kms.Backend) {
			b.ReloadConfig()
		})
	})
	if err != nil {
		log.Warnf("Output configuration edits will not be picked up: %v", err)
	} else {
		defer stopWatch()
	}

	monitor, err := udev.NewMonitor(lister)
	if err != nil {
		log.Fatalf("Failed to watch for drm devices: %v", err)
	}
	defer monitor.Close()
	udev.Attach(loop, monitor)

	if delay := viper.GetInt("delay"); delay > 0 {
		wallpaper.Attach(loop, wallpapers, time.Duration(delay)*time.Second)
	}

	backend.ScanDevices()
	if len(backend.Devices()) == 0 {
		log.Warn("No drm device could be opened, waiting for hotplug")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := ipc.Start(&ipc.LoopController{
		Loop:       loop,
		Shell:      sh,
		Dmabufs:    dmabufs,
		Session:    sess,
		Wallpapers: wallpapers,
		Socket:     socket,
		Exit:       stop,
	}, socket)
	if err != nil {
		log.Fatalf("Failed to start control socket: %v", err)
	}
	log.Infof("Listening on %s", socket)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Event loop failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Failed to stop control socket: %v", err)
	}
	log.Infof("kmsd exited")
}

// newWallpapers sets up the configured wallpapers. Without any the manager
// starts empty and waits for a "load".
func newWallpapers(composer *compose.Composer) *wallpaper.Manager {
	mode, err := compose.ParseScaleMode(viper.GetString("scale_mode"))
	if err != nil {
		log.Warnf("%v, using %s", err, compose.ScaleVertical)
		mode = compose.ScaleVertical
	}
	m := wallpaper.NewManager(nil, composer, mode)

	dir := utils.CanonicalPath(viper.GetString("wallpapers"))
	if dir == "" {
		return m
	}
	paths, err := wallpaper.List(dir)
	if err != nil {
		log.Warnf("Ignoring wallpapers: %v", err)
		return m
	}
	log.Infof("Found %d wallpapers in %s", len(paths), dir)
	log.Infof("Shuffle: %v", viper.GetBool("shuffle"))

	m.SetWallpapers(paths)
	if viper.GetBool("shuffle") {
		m.Shuffle()
	}
	if _, err := m.Next(); err != nil {
		log.Warnf("No wallpaper could be loaded: %v", err)
	}
	return m
}

type gpuLister interface {
	DeviceList() ([]types.DeviceEntry, error)
	PrimaryGPU() (types.DeviceEntry, bool)
}

// selectPrimaryGPU picks the render node composition defaults to: the
// configured override, else the boot VGA device, else the first card that
// has a render node.
func selectPrimaryGPU(override string, lister gpuLister, renderNode func(types.DevID) (types.Node, error)) (types.Node, error) {
	if override != "" {
		node, err := drm.NodeFromPath(utils.CanonicalPath(override))
		if err != nil {
			return types.Node{}, fmt.Errorf("render_device: %w", err)
		}
		return renderNode(node.Dev)
	}

	if e, ok := lister.PrimaryGPU(); ok {
		node, err := renderNode(e.ID)
		if err == nil {
			return node, nil
		}
		log.Warnf("Boot GPU %s has no render node: %v", e.Path, err)
	}

	entries, err := lister.DeviceList()
	if err != nil {
		return types.Node{}, err
	}
	for _, e := range entries {
		if node, err := renderNode(e.ID); err == nil {
			return node, nil
		}
	}
	return types.Node{}, ErrNoGPU
}

func setupRotatingLogger() {
	logDir := utils.CanonicalPath(viper.GetString("log_dir"))
	logPath := filepath.Join(logDir, "kmsd.log")

	writer, err := rotatelogs.New(
		logPath+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationSize(10*1024*1024),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		log.Fatalf("failed to configure log rotation: %v", err)
	}

	log.SetOutput(writer)
	if !viper.GetBool("debug") {
		log.SetLevel(log.InfoLevel)
	}
}
