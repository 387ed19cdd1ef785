package types

// Buffer is one swapchain buffer.
type Buffer interface {
	Size() Size
	Format() Format
}

// PixelBuffer is a Buffer whose memory is mapped into the process, laid out
// as rows of Stride bytes.
type PixelBuffer interface {
	Buffer
	Pixels() []byte
	Stride() int
}

type ConnectorInfo struct {
	Handle       Connector
	Modes        []Mode
	PhysicalSize Size // millimeters
}

type EDIDInfo struct {
	Manufacturer string
	Model        string
}

// DeviceEntry is a GPU device node as listed by the hot-plug monitor.
type DeviceEntry struct {
	ID   DevID
	Path string
}
