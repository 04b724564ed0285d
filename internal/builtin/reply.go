package builtin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-glue/pkg/cache"
	"github.com/sirosfoundation/go-glue/pkg/server"
)

// HitsHeader carries the number of times a reply route has been served.
const HitsHeader = "X-Reply-Hits"

// ReplyOptions configure one reply route.
type ReplyOptions struct {
	Method      string        `mapstructure:"method"`
	Path        string        `mapstructure:"path"`
	Status      int           `mapstructure:"status"`
	Body        string        `mapstructure:"body"`
	ContentType string        `mapstructure:"contentType"`
	Cache       string        `mapstructure:"cache"`
	ExpiresIn   time.Duration `mapstructure:"expiresIn"`
}

func (o *ReplyOptions) setDefaults() {
	if o.Method == "" {
		o.Method = http.MethodGet
	}
	o.Method = strings.ToUpper(o.Method)
	if o.Path == "" {
		o.Path = "/"
	}
	if o.Status == 0 {
		o.Status = http.StatusOK
	}
	if o.ContentType == "" {
		o.ContentType = "text/plain; charset=utf-8"
	}
}

// DecodeReplyOptions decodes plugin options into ReplyOptions with defaults
// applied.
func DecodeReplyOptions(options map[string]any) (ReplyOptions, error) {
	var opts ReplyOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(options); err != nil {
		return opts, fmt.Errorf("invalid reply options: %w", err)
	}
	opts.setDefaults()
	if opts.Status < 100 || opts.Status > 599 {
		return opts, fmt.Errorf("invalid reply status %d", opts.Status)
	}
	return opts, nil
}

// NewReply creates the reply plugin: a static responder that counts its hits
// in a server cache.
func NewReply() (server.Plugin, error) {
	r := &reply{}
	return server.NewPlugin(server.Attributes{Name: ReplyID, Version: Version}, r.register), nil
}

type reply struct {
	mu sync.Mutex
}

func (r *reply) register(api *server.API, options map[string]any) error {
	opts, err := DecodeReplyOptions(options)
	if err != nil {
		return err
	}

	policy, err := api.Cache(cache.PolicyOptions{Cache: opts.Cache, ExpiresIn: opts.ExpiresIn})
	if err != nil {
		return err
	}

	key := opts.Method + " " + api.Prefix() + opts.Path
	logger := api.Logger()

	api.Handle(opts.Method, opts.Path, func(c *gin.Context) {
		hits, err := r.hit(c, policy, key)
		if err != nil {
			logger.Warn("Failed to count hit", zap.String("route", key), zap.Error(err))
		} else {
			c.Header(HitsHeader, strconv.Itoa(hits))
		}
		c.Data(opts.Status, opts.ContentType, []byte(opts.Body))
	})
	return nil
}

func (r *reply) hit(c *gin.Context, policy *cache.Policy, key string) (int, error) {
	ctx := c.Request.Context()

	r.mu.Lock()
	defer r.mu.Unlock()

	raw, ok, err := policy.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	hits := 0
	if ok {
		hits, err = strconv.Atoi(string(raw))
		if err != nil {
			return 0, errors.Join(fmt.Errorf("corrupt hit counter for %s", key), err)
		}
	}
	hits++
	if err := policy.Set(ctx, key, []byte(strconv.Itoa(hits))); err != nil {
		return 0, err
	}
	return hits, nil
}
