package types

import (
	"errors"
	"fmt"
	"path/filepath"
)

// DRMMajor is the character device major number of every DRM node.
const DRMMajor = 226

var ErrNotDRMNode = errors.New("not a drm device node")

type NodeType string

const (
	NodeTypePrimary NodeType = "primary"
	NodeTypeControl NodeType = "control"
	NodeTypeRender  NodeType = "render"
)

// DevID is a device number as returned by stat(2) in st_rdev.
type DevID uint64

func MakeDevID(major, minor uint32) DevID {
	// glibc makedev encoding
	dev := DevID(major&0x00000fff) << 8
	dev |= DevID(major&0xfffff000) << 32
	dev |= DevID(minor&0x000000ff) << 0
	dev |= DevID(minor&0xffffff00) << 12
	return dev
}

func (d DevID) Major() uint32 {
	return uint32((d>>8)&0x00000fff) | uint32((d>>32)&0xfffff000)
}

func (d DevID) Minor() uint32 {
	return uint32(d&0x000000ff) | uint32((d>>12)&0xffffff00)
}

func (d DevID) String() string {
	return fmt.Sprintf("%d:%d", d.Major(), d.Minor())
}

// Node identifies one DRM node (card or render node) of a GPU.
type Node struct {
	Dev  DevID
	Type NodeType
}

func NodeFromDevID(dev DevID) (Node, error) {
	if dev.Major() != DRMMajor {
		return Node{}, fmt.Errorf("%w: %s", ErrNotDRMNode, dev)
	}
	return Node{Dev: dev, Type: nodeTypeForMinor(dev.Minor())}, nil
}

func nodeTypeForMinor(minor uint32) NodeType {
	switch {
	case minor >= 128:
		return NodeTypeRender
	case minor >= 64:
		return NodeTypeControl
	default:
		return NodeTypePrimary
	}
}

// Path returns the /dev/dri path of the node.
func (n Node) Path() string {
	minor := n.Dev.Minor()
	switch n.Type {
	case NodeTypeRender:
		return filepath.Join("/dev/dri", fmt.Sprintf("renderD%d", minor))
	case NodeTypeControl:
		return filepath.Join("/dev/dri", fmt.Sprintf("controlD%d", minor))
	default:
		return filepath.Join("/dev/dri", fmt.Sprintf("card%d", minor))
	}
}

func (n Node) String() string {
	return n.Path()
}

func (n Node) IsZero() bool {
	return n == Node{}
}

// CRTC and Connector are kernel object ids.
type CRTC uint32
type Connector uint32

// Format is a fourcc pixel format plus a layout modifier.
type Format struct {
	Code     FourCC
	Modifier uint64
}

type FourCC uint32

const (
	FormatXRGB8888 FourCC = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatARGB8888 FourCC = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
)

const ModifierLinear uint64 = 0

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

type Point struct {
	X, Y int
}

type Size struct {
	W, H int
}

type Transform string

const (
	TransformNormal Transform = "normal"
	Transform90     Transform = "90"
	Transform180    Transform = "180"
	Transform270    Transform = "270"
)
