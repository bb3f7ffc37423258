// Package label reads ingredient lists from photos of product labels using the
// inference gateway.
package label

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/gateway"
	"github.com/hpungsan/morsel/internal/interpret"
	"github.com/hpungsan/morsel/internal/prompt"
)

// MaxImageBytes caps accepted image size.
const MaxImageBytes = 10 << 20

const defaultImageType = "image/jpeg"

// Gateway sends a message list and returns the raw content of the reply.
type Gateway interface {
	Send(ctx context.Context, messages []prompt.Message, shape gateway.Shape) (string, error)
}

// Extractor turns label images into ingredient text.
type Extractor struct {
	gw  Gateway
	log *zap.Logger
}

// New creates an extractor. A nil logger disables logging.
func New(gw Gateway, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{gw: gw, log: log.Named("label")}
}

// Extract reads a raw image. The content type is sniffed from its bytes.
func (e *Extractor) Extract(ctx context.Context, image []byte) (*interpret.LabelExtraction, error) {
	if len(image) == 0 {
		return nil, errors.NewInvalidInput("image data is required")
	}
	if len(image) > MaxImageBytes {
		return nil, errors.NewInvalidInput("image exceeds 10 MB")
	}
	contentType := http.DetectContentType(image)
	if !strings.HasPrefix(contentType, "image/") {
		contentType = defaultImageType
	}
	url := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return e.extract(ctx, url)
}

// ExtractBase64 reads a base64 image, either bare or already wrapped as a data URL.
// Bare data is assumed to be JPEG.
func (e *Extractor) ExtractBase64(ctx context.Context, data string) (*interpret.LabelExtraction, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.NewInvalidInput("image data is required")
	}
	payload := data
	if strings.HasPrefix(data, "data:") {
		_, payload, _ = strings.Cut(data, ",")
	} else {
		data = "data:" + defaultImageType + ";base64," + data
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes {
		return nil, errors.NewInvalidInput("image exceeds 10 MB")
	}
	return e.extract(ctx, data)
}

func (e *Extractor) extract(ctx context.Context, dataURL string) (*interpret.LabelExtraction, error) {
	raw, err := e.gw.Send(ctx, prompt.BuildLabelExtraction(dataURL), gateway.ShapeJSON)
	if err != nil {
		return nil, err
	}
	out, err := interpret.Label(raw)
	if err != nil {
		e.log.Warn("label extraction failed", zap.Error(err), zap.String("raw", raw))
		return nil, err
	}
	e.log.Debug("label extracted", zap.Int("ingredients_len", len(out.Ingredients)), zap.Bool("product_name", out.ProductName != nil))
	return out, nil
}
