// Package server serves read-only JSON over the harvested channels and
// lets clients search their transcripts.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/laytan/tubescriber/internal/search"
	"github.com/laytan/tubescriber/internal/store"
)

// MinQueryLength keeps very short queries from matching nearly everything.
const MinQueryLength = 3

type Store interface {
	search.Source
	Channels(ctx context.Context) ([]store.Channel, error)
	ChannelByHandle(ctx context.Context, handle string) (*store.Channel, error)
}

type Channel struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Subscribers int64  `json:"subscribers"`
	Videos      int64  `json:"videos"`
	Thumbnail   string `json:"thumbnail,omitempty"`
}

type Match struct {
	Offset float64 `json:"offset"`
	URL    string  `json:"url"`
}

type Result struct {
	VideoID     string    `json:"video_id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Matches     []Match   `json:"matches"`
}

type ChannelData struct {
	Channel Channel  `json:"channel"`
	Query   string   `json:"query,omitempty"`
	Results []Result `json:"results"`
}

func New(s Store, log logrus.FieldLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(log),
	})

	app.Get("/channels", func(c *fiber.Ctx) error {
		channels, err := s.Channels(c.UserContext())
		if err != nil {
			return fmt.Errorf("retrieving channels: %w", err)
		}

		data := make([]Channel, 0, len(channels))
		for _, ch := range channels {
			data = append(data, toChannel(ch))
		}
		return c.JSON(data)
	})

	app.Get("/@:handle", func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		channel, err := s.ChannelByHandle(ctx, "@"+c.Params("handle"))
		if errors.Is(err, store.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "channel not harvested")
		}
		if err != nil {
			return fmt.Errorf("retrieving channel: %w", err)
		}

		data := ChannelData{Channel: toChannel(*channel), Results: []Result{}}

		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			return c.JSON(data)
		}
		if len(query) < MinQueryLength {
			return fiber.NewError(
				http.StatusUnprocessableEntity,
				fmt.Sprintf("Please type at least %d characters", MinQueryLength),
			)
		}
		data.Query = query

		log.WithFields(logrus.Fields{"query": query, "channel": channel.Title}).Info("searching")
		res, err := search.Channel(ctx, s, log, channel.ID, query)
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}

		for _, r := range res {
			data.Results = append(data.Results, toResult(r))
		}
		return c.JSON(data)
	})

	return app
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := app.Shutdown(); err != nil {
			return err
		}
		return <-errc
	}
}

func errorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := http.StatusInternalServerError
		msg := "internal error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code, msg = fe.Code, fe.Message
		} else {
			log.WithError(err).WithField("path", c.Path()).Error("request failed")
		}

		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

func toChannel(ch store.Channel) Channel {
	return Channel{
		ID:          ch.ID,
		Handle:      ch.Handle,
		Title:       ch.Title,
		Description: ch.Description,
		Subscribers: ch.SubscriberCount,
		Videos:      ch.VideoCount,
		Thumbnail:   ch.ThumbnailUrl,
	}
}

func toResult(r search.Result) Result {
	res := Result{
		VideoID:     r.VideoID,
		Title:       r.Title,
		PublishedAt: r.PublishedAt,
		Matches:     make([]Match, 0, len(r.Offsets)),
	}
	for _, o := range r.Offsets {
		res.Matches = append(res.Matches, Match{
			Offset: o.Seconds(),
			URL:    fmt.Sprintf("https://youtu.be/%s?t=%d", r.VideoID, int(o.Seconds())),
		})
	}
	return res
}
