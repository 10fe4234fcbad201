package serialization

type UvmMarshaler interface {
	MarshalUvm() ([]byte, error)
}

type UvmUnmarshaler interface {
	UnmarshalUvm(buf []byte) error
}
