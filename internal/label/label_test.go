package label

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/morsel/internal/errors"
	"github.com/hpungsan/morsel/internal/gateway"
	"github.com/hpungsan/morsel/internal/prompt"
)

type captureGateway struct {
	msgs    []prompt.Message
	shape   gateway.Shape
	content string
	err     error
}

func (g *captureGateway) Send(_ context.Context, msgs []prompt.Message, shape gateway.Shape) (string, error) {
	g.msgs, g.shape = msgs, shape
	return g.content, g.err
}

func (g *captureGateway) imageURL() string {
	return g.msgs[len(g.msgs)-1].Parts[0].ImageURL.URL
}

// Smallest valid PNG header; enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestExtract_SniffsContentType(t *testing.T) {
	gw := &captureGateway{content: `{"productName":"Oat Bar","ingredients":"Oats, Honey"}`}
	e := New(gw, nil)

	out, err := e.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	require.Equal(t, "Oats, Honey", out.Ingredients)
	require.Equal(t, "Oat Bar", *out.ProductName)
	require.Equal(t, gateway.ShapeJSON, gw.shape)
	require.True(t, strings.HasPrefix(gw.imageURL(), "data:image/png;base64,"), gw.imageURL())
}

func TestExtract_UnknownBytesDefaultToJPEG(t *testing.T) {
	gw := &captureGateway{content: `{"ingredients":"Oats"}`}
	_, err := New(gw, nil).Extract(context.Background(), []byte("not really an image"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(gw.imageURL(), "data:image/jpeg;base64,"))
}

func TestExtract_Empty(t *testing.T) {
	_, err := New(&captureGateway{}, nil).Extract(context.Background(), nil)
	require.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestExtractBase64_Wrapping(t *testing.T) {
	gw := &captureGateway{content: `{"ingredients":"Oats"}`}
	e := New(gw, nil)

	_, err := e.ExtractBase64(context.Background(), "QUJD")
	require.NoError(t, err)
	require.Equal(t, "data:image/jpeg;base64,QUJD", gw.imageURL())

	_, err = e.ExtractBase64(context.Background(), "data:image/webp;base64,QUJD")
	require.NoError(t, err)
	require.Equal(t, "data:image/webp;base64,QUJD", gw.imageURL())
}

func TestExtract_NoIngredients(t *testing.T) {
	gw := &captureGateway{content: `{"productName":null,"ingredients":null,"error":"Could not find ingredients in this image"}`}
	_, err := New(gw, nil).ExtractBase64(context.Background(), "QUJD")
	require.True(t, errors.Is(err, errors.ErrNoIngredientsFound))
}

func TestExtract_GatewayErrorPassesThrough(t *testing.T) {
	gw := &captureGateway{err: errors.NewQuotaExhausted()}
	_, err := New(gw, nil).ExtractBase64(context.Background(), "QUJD")
	require.True(t, errors.Is(err, errors.ErrQuotaExhausted))
}

func TestExtractBase64_RejectsOversizedImage(t *testing.T) {
	gw := &captureGateway{content: `{"ingredients":"Oats"}`}
	e := New(gw, nil)

	// Just over the limit once decoded.
	oversized := strings.Repeat("A", (MaxImageBytes/3+1)*4)
	_, err := e.ExtractBase64(context.Background(), oversized)
	require.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = e.ExtractBase64(context.Background(), "data:image/png;base64,"+oversized)
	require.True(t, errors.Is(err, errors.ErrInvalidInput))
	require.Nil(t, gw.msgs, "oversized images must not reach the gateway")

	// Exactly at the limit is accepted.
	_, err = e.ExtractBase64(context.Background(), strings.Repeat("A", MaxImageBytes/3*4))
	require.NoError(t, err)
}
