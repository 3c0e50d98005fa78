//go:build linux

package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/godbus/dbus/v5"

	logx "xsnotifier/pkg/logx"
)

// notifyCall is the argument list of org.freedesktop.Notifications.Notify:
// (app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout).
type notifyCall struct {
	appName       string
	replacesID    uint32
	appIcon       string
	summary       string
	body          string
	hints         map[string]dbus.Variant
	expireTimeout int32
}

func parseNotify(body []interface{}) (notifyCall, error) {
	var n notifyCall
	if len(body) != 8 {
		return n, fmt.Errorf("notify: want 8 arguments, got %d", len(body))
	}
	var ok bool
	if n.appName, ok = body[0].(string); !ok {
		return n, errors.New("notify: app_name is not a string")
	}
	if n.replacesID, ok = body[1].(uint32); !ok {
		return n, errors.New("notify: replaces_id is not a uint32")
	}
	if n.appIcon, ok = body[2].(string); !ok {
		return n, errors.New("notify: app_icon is not a string")
	}
	if n.summary, ok = body[3].(string); !ok {
		return n, errors.New("notify: summary is not a string")
	}
	if n.body, ok = body[4].(string); !ok {
		return n, errors.New("notify: body is not a string")
	}
	if n.hints, ok = body[6].(map[string]dbus.Variant); !ok && body[6] != nil {
		return n, errors.New("notify: hints is not a{sv}")
	}
	if n.expireTimeout, ok = body[7].(int32); !ok {
		return n, errors.New("notify: expire_timeout is not an int32")
	}
	return n, nil
}

func (n notifyCall) expiry() time.Duration {
	switch {
	case n.expireTimeout < 0:
		return defaultExpiry
	case n.expireTimeout == 0:
		return maxExpiry
	}
	d := time.Duration(n.expireTimeout) * time.Millisecond
	if d > maxExpiry {
		return maxExpiry
	}
	return d
}

// text splits the body into one element per line after the summary.
func (n notifyCall) text() []string {
	out := []string{n.summary}
	body := strings.TrimRight(n.body, "\n")
	if body == "" {
		return out
	}
	return append(out, strings.Split(body, "\n")...)
}

func (n notifyCall) stringHint(keys ...string) string {
	for _, k := range keys {
		if v, ok := n.hints[k]; ok {
			if s, ok := v.Value().(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func (n notifyCall) record(id ID, log logx.Logger) Record {
	app := n.appName
	if app == "" {
		app = n.stringHint("desktop-entry")
	}
	return Record{
		ID:      id,
		AppName: app,
		Text:    n.text(),
		Icon:    n.iconFunc(log),
	}
}

// iconFunc resolves the icon in the freedesktop priority order:
// raw image-data hint, image-path hint, app_icon, then the desktop entry.
func (n notifyCall) iconFunc(log logx.Logger) IconFunc {
	var data []interface{}
	for _, k := range []string{"image-data", "image_data", "icon_data"} {
		if v, ok := n.hints[k]; ok {
			if s, ok := v.Value().([]interface{}); ok {
				data = s
				break
			}
		}
	}
	ref := n.stringHint("image-path", "image_path")
	if ref == "" {
		ref = n.appIcon
	}
	if ref == "" {
		ref = n.stringHint("desktop-entry")
	}
	if data == nil && ref == "" {
		return nil
	}
	return func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			b   []byte
			err error
		)
		if data != nil {
			b, err = encodeImageData(data)
		} else {
			b, err = readIconRef(ref)
		}
		if err != nil {
			return nil, err
		}
		log.Trace("icon loaded", logx.String("ref", ref), logx.String("size", humanize.Bytes(uint64(len(b)))))
		return b, nil
	}
}

var iconSizes = []string{"256x256", "128x128", "96x96", "64x64", "48x48", "32x32"}

// readIconRef loads a file path, file:// URI or themed icon name.
func readIconRef(ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("icon uri %q: %w", ref, err)
		}
		ref = u.Path
	}
	if filepath.IsAbs(ref) {
		return os.ReadFile(ref)
	}
	p, err := lookupThemedIcon(ref)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func lookupThemedIcon(name string) (string, error) {
	name = strings.TrimSuffix(path.Base(name), ".png")
	for _, size := range iconSizes {
		if p, err := xdg.SearchDataFile(path.Join("icons", "hicolor", size, "apps", name+".png")); err == nil {
			return p, nil
		}
	}
	if p, err := xdg.SearchDataFile(path.Join("pixmaps", name+".png")); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("%w: icon %q not found in data dirs", ErrNoIcon, name)
}

// maxImageSide bounds image-data dimensions. Notification icons are small.
const maxImageSide = 4096

// encodeImageData converts an (iiibiiay) image-data hint to PNG.
func encodeImageData(v []interface{}) ([]byte, error) {
	if len(v) != 7 {
		return nil, fmt.Errorf("image-data: want 7 fields, got %d", len(v))
	}
	w, _ := v[0].(int32)
	h, _ := v[1].(int32)
	stride, _ := v[2].(int32)
	alpha, _ := v[3].(bool)
	bps, _ := v[4].(int32)
	channels, _ := v[5].(int32)
	pix, _ := v[6].([]byte)
	if w <= 0 || h <= 0 || w > maxImageSide || h > maxImageSide || bps != 8 || (channels != 3 && channels != 4) {
		return nil, fmt.Errorf("image-data: unsupported %dx%d bps=%d channels=%d", w, h, bps, channels)
	}
	width, height, rowStride, ch := int(w), int(h), int(stride), int(channels)
	if rowStride < width*ch {
		return nil, fmt.Errorf("image-data: stride %d too small for %dx%d channels", rowStride, width, ch)
	}
	if int64(rowStride)*int64(height-1)+int64(width*ch) > int64(len(pix)) {
		return nil, fmt.Errorf("image-data: short pixel buffer (%d bytes)", len(pix))
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := pix[y*rowStride:]
		for x := 0; x < width; x++ {
			p := row[x*ch:]
			a := uint8(255)
			if alpha && channels == 4 {
				a = p[3]
			}
			img.SetNRGBA(x, y, color.NRGBA{R: p[0], G: p[1], B: p[2], A: a})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
