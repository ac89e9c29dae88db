package vm

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Image snapshots: the globals tree serialized to CBOR, so a host can
// persist a configured environment and restore it into a fresh context.
// Only data values survive a snapshot — functions, user-data, and raw
// buffers are tied to the live runtime and are skipped.

// ImageVersion is the current snapshot format version.
const ImageVersion = 1

// cborEncMode uses canonical encoding options so identical environments
// produce byte-identical images.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

type imageValue struct {
	Kind string      `cbor:"k"`
	Int  int32       `cbor:"i,omitempty"`
	Str  string      `cbor:"s,omitempty"`
	Car  *imageValue `cbor:"a,omitempty"`
	Cdr  *imageValue `cbor:"d,omitempty"`
}

type imageBinding struct {
	Name  string     `cbor:"n"`
	Value imageValue `cbor:"v"`
}

type image struct {
	Version  int            `cbor:"version"`
	Bindings []imageBinding `cbor:"bindings"`
}

func (c *Context) encodeImageValue(v *Value) (imageValue, bool) {
	switch v.typ {
	case TypeNil:
		return imageValue{Kind: "nil"}, true
	case TypeInteger:
		return imageValue{Kind: "int", Int: v.num}, true
	case TypeSymbol:
		return imageValue{Kind: "sym", Str: c.SymbolName(v)}, true
	case TypeString:
		return imageValue{Kind: "str", Str: c.StringValue(v)}, true
	case TypeCons:
		car, ok := c.encodeImageValue(c.car(v))
		if !ok {
			return imageValue{}, false
		}
		cdr, ok := c.encodeImageValue(c.cdr(v))
		if !ok {
			return imageValue{}, false
		}
		return imageValue{Kind: "pair", Car: &car, Cdr: &cdr}, true
	}
	return imageValue{}, false
}

func (c *Context) decodeImageValue(v *imageValue) (*Value, error) {
	switch v.Kind {
	case "nil":
		return c.Nil(), nil
	case "int":
		return c.MakeInteger(v.Int), nil
	case "sym":
		return c.MakeSymbol(v.Str), nil
	case "str":
		return c.MakeString(v.Str), nil
	case "pair":
		if v.Car == nil || v.Cdr == nil {
			return nil, fmt.Errorf("image pair missing car or cdr")
		}
		car, err := c.decodeImageValue(v.Car)
		if err != nil {
			return nil, err
		}
		c.PushOp(car)
		cdr, err := c.decodeImageValue(v.Cdr)
		if err != nil {
			c.PopOp()
			return nil, err
		}
		c.PushOp(cdr)
		cell := c.MakeCons(car, cdr)
		c.PopOp()
		c.PopOp()
		return cell, nil
	}
	return nil, fmt.Errorf("unknown image value kind %q", v.Kind)
}

// SaveImage writes a snapshot of every serializable global binding to w.
// Returns the number of bindings written.
func (c *Context) SaveImage(w io.Writer) (int, error) {
	img := image{Version: ImageVersion}

	c.globalsTreeTraverse(c.globalsTree, func(kvp, _ *Value) {
		name := c.SymbolName(c.car(kvp))
		encoded, ok := c.encodeImageValue(c.cdr(kvp))
		if !ok {
			return // runtime-bound value; not part of the snapshot
		}
		img.Bindings = append(img.Bindings, imageBinding{Name: name, Value: encoded})
	})

	data, err := cborEncMode.Marshal(&img)
	if err != nil {
		return 0, fmt.Errorf("encoding image: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("writing image: %w", err)
	}
	return len(img.Bindings), nil
}

// LoadImage restores a snapshot into this context, overwriting bindings that
// share names with the image. Returns the number of bindings restored.
func (c *Context) LoadImage(r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("reading image: %w", err)
	}

	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return 0, fmt.Errorf("decoding image: %w", err)
	}
	if img.Version > ImageVersion {
		return 0, fmt.Errorf("image version %d is newer than supported version %d", img.Version, ImageVersion)
	}

	for i := range img.Bindings {
		v, err := c.decodeImageValue(&img.Bindings[i].Value)
		if err != nil {
			return 0, fmt.Errorf("binding %q: %w", img.Bindings[i].Name, err)
		}
		c.SetVar(img.Bindings[i].Name, v)
	}
	return len(img.Bindings), nil
}
