package http

import (
	"bufio"
	"fmt"
	stdlog "log"
	"time"

	"github.com/bytedance/sonic"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jonoton/percept/manage"
	"github.com/jonoton/percept/memory"
	"github.com/jonoton/percept/runtime"
	"github.com/jonoton/percept/videosource"
)

const mjpegBoundary = "perceptframe"

// Http manages the http server
type Http struct {
	httpConfig   *Config
	fiber        *fiber.App
	manage       *manage.Manage
	accessLogger *stdlog.Logger
	startedAt    time.Time
}

// NewHttp returns a new Http
func NewHttp(manage *manage.Manage) *Http {
	h := &Http{
		httpConfig: NewConfig(runtime.GetRuntimeDirectory(".config") + ConfigFilename),
		fiber: fiber.New(fiber.Config{
			JSONEncoder: sonic.Marshal,
			JSONDecoder: sonic.Unmarshal,
		}),
		manage:       manage,
		accessLogger: &stdlog.Logger{},
		startedAt:    time.Now(),
	}
	h.setup()
	return h
}

func (h *Http) liveQuality() int {
	if h.httpConfig != nil && h.httpConfig.LiveQuality > 0 {
		return h.httpConfig.LiveQuality
	}
	return 80
}

func (h *Http) setup() {
	logDir := runtime.GetRuntimeDirectory(".logs")
	h.accessLogger.SetOutput(&lumberjack.Logger{
		Filename:   logDir + "access",
		MaxSize:    1,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   false,
	})
	limitPerSecond := 100
	if h.httpConfig != nil && h.httpConfig.LimitPerSecond > 0 {
		limitPerSecond = h.httpConfig.LimitPerSecond
	}
	cfg := limiter.Config{
		Expiration: 1 * time.Second, // seconds
		Max:        limitPerSecond,  // requests
	}

	h.fiber.Use(limiter.New(cfg))

	h.fiber.Use(compress.New(compress.Config{Level: compress.LevelDefault}))

	h.fiber.Get("/heartbeat", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	h.fiber.Get("/status", func(c *fiber.Ctx) error {
		type info struct {
			UptimeSeconds int          `json:"uptimeSeconds"`
			Memory        memory.Usage `json:"memory"`
		}
		data := info{
			UptimeSeconds: int(time.Since(h.startedAt).Seconds()),
			Memory:        memory.Snapshot(),
		}
		return c.JSON(data)
	})

	h.fiber.Get("/feeds", func(c *fiber.Ctx) error {
		feedList := h.manage.GetFeedNames(200)
		type info struct {
			NameList []string `json:"nameList"`
		}
		data := info{
			NameList: feedList,
		}
		return c.JSON(data)
	})

	h.fiber.Get("/feeds/:name/stats", func(c *fiber.Ctx) error {
		feedName := c.Params("name")
		stats := h.manage.GetFeedStats(feedName, 200)
		if stats == nil {
			return c.SendStatus(fiber.StatusNotFound)
		}
		h.accessLogger.Printf("%s,stats,%s,%s,%s\r\n", getFormattedKitchenTimestamp(time.Now()), feedName, c.IP(), c.IPs())
		return c.JSON(stats)
	})

	h.fiber.Get("/feeds/:name/live", h.liveFeed())
}

// liveFeed streams a feed as multipart MJPEG. The subscription is fed by
// the feed's fanout goroutine, so the stream writer must unsubscribe on any
// write error to unblock it.
func (h *Http) liveFeed() func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		feedName := c.Params("name")
		if h.manage.GetFeedStats(feedName, 200) == nil {
			return c.SendStatus(fiber.StatusNotFound)
		}
		key := uuid.New().String() + "-live-" + feedName
		frames := h.manage.Subscribe(feedName, key)
		if frames == nil {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
		h.accessLogger.Printf("%s,live,%s,%s,%s\r\n", getFormattedKitchenTimestamp(time.Now()), feedName, c.IP(), c.IPs())
		quality := c.QueryInt("quality", h.liveQuality())
		c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+mjpegBoundary)
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			log.Infoln("Live stream opened", key)
			defer log.Infoln("Live stream closed", key)
			// Keep draining until the unsubscribe lands so the feed fanout
			// never blocks on a dead client
			defer func() {
				h.manage.Unsubscribe(feedName, key)
				for env := range frames {
					env.Cleanup()
				}
			}()
			for env := range frames {
				if !env.IsDecoded() || !env.Decoded.IsValid() {
					env.Cleanup()
					continue
				}
				encoded, err := videosource.EncodeJPEG(env.Decoded.Mat, quality)
				env.Cleanup()
				if err != nil {
					continue
				}
				buf := bytebufferpool.Get()
				fmt.Fprintf(buf, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(encoded))
				buf.Write(encoded)
				buf.WriteString("\r\n")
				_, werr := w.Write(buf.Bytes())
				bytebufferpool.Put(buf)
				if werr != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}))
		return nil
	}
}

// Listen on port
func (h *Http) Listen() {
	port := ":8080"
	if h.httpConfig != nil && h.httpConfig.Port > 0 {
		portNum := h.httpConfig.Port
		port = fmt.Sprintf(":%d", portNum)
	}
	h.fiber.Listen(port)
}

// Stop shuts down the http server
func (h *Http) Stop() {
	h.fiber.Shutdown()
}

func getFormattedKitchenTimestamp(t time.Time) string {
	return t.Format("03:04:05 PM 01-02-2006")
}
