// Terminal streaming client. Logs in (or registers), lists the catalog
// and plays one video at its native frame rate, printing progress. It
// stands in for a graphical player: the playback tick that would drive
// an image widget drives a console line instead.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"framecast/pkg/client"
	"framecast/pkg/config"
	"framecast/pkg/logger"
)

var (
	username = flag.String("user", "", "Username")
	password = flag.String("pass", "", "Password")
	register = flag.Bool("register", false, "Create the account before logging in")
	video    = flag.String("video", "", "Video id to play. Empty lists the catalog and exits.")
	seekTo   = flag.Int64("seek", -1, "Seek to this frame index before playing")
	frames   = flag.Int("frames", 0, "Stop after this many frames (0 plays to the end)")
)

func main() {
	flag.Parse()
	cfg := config.LoadClient()
	logger.Setup(cfg.LogLevel)
	log := logger.WithComponent("main")

	c, err := client.Dial(client.Config{
		ServerAddr:     cfg.ServerAddr,
		BufferCapacity: cfg.BufferCapacity,
		MaxOutstanding: cfg.MaxOutstanding,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		log.Errorf("connect: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	if *username != "" {
		if *register {
			ok, err := c.Register(*username, *password)
			if err != nil {
				log.Errorf("register: %v", err)
				os.Exit(1)
			}
			if !ok {
				log.Errorf("username %q is taken", *username)
				os.Exit(1)
			}
		}
		ok, err := c.Login(*username, *password)
		if err != nil {
			log.Errorf("login: %v", err)
			os.Exit(1)
		}
		if !ok {
			log.Error("invalid credentials")
			os.Exit(1)
		}
	}

	if *video == "" {
		ids, thumbs, err := c.ListVideos()
		if err != nil {
			log.Errorf("list videos: %v", err)
			os.Exit(1)
		}
		for _, id := range ids {
			fmt.Printf("%s\t(thumbnail %d bytes)\n", id, len(thumbs[id]))
		}
		return
	}

	fps, total, err := c.WatchVideo(*video)
	if err != nil {
		log.Errorf("watch %s: %v", *video, err)
		os.Exit(1)
	}
	log.Infof("playing %s: %.2f fps, %d frames, length %s", *video, fps, total, c.VideoLength())

	if *seekTo >= 0 {
		acked, err := c.Seek(uint64(*seekTo))
		if err != nil {
			log.Errorf("seek: %v", err)
			os.Exit(1)
		}
		log.Infof("seeked to frame %d", acked)
	}

	interval := c.FrameInterval()
	if interval <= 0 {
		log.Errorf("server reported unusable frame rate %.2f", fps)
		os.Exit(1)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	played := 0
	for range ticker.C {
		img, err := c.NextFrame()
		if err == client.ErrEndOfStream {
			log.Info("end of stream")
			return
		}
		if err != nil {
			log.Errorf("playback: %v", err)
			os.Exit(1)
		}
		played++
		b := img.Bounds()
		fmt.Printf("\rframe %6d  %dx%d  buffered %2d", played, b.Dx(), b.Dy(), c.Buffer().Len())
		if *frames > 0 && played >= *frames {
			fmt.Println()
			return
		}
	}
}
