package keyring

// Codec is the capability contract a typed item kind implements. The engine
// itself never interprets payload bytes; it only records the content type
// string alongside them.
//
// ContentType must return a fixed constant for the kind. EncodeItem renders
// the receiver to the payload bytes stored in the container; DecodeItem is its
// inverse and runs on a zero value of the kind.
type Codec interface {
	ContentType() string
	EncodeItem() ([]byte, error)
	DecodeItem(data []byte) error
}

// Item is a read view of an item as returned by GetItemRaw. Data may alias the
// engine's pending buffer, so it is only valid until the keyring is mutated;
// copy it if it needs to outlive the next SetItem/DeleteItem/Save.
type Item struct {
	ContentType string
	Data        []byte
}

// ItemOwned is the owned write view accepted by SetItemRaw.
type ItemOwned struct {
	ContentType string
	Data        []byte
}

// ItemInfo is one (name, content type) metadata pair yielded by ItemMetadata.
type ItemInfo struct {
	Name        string
	ContentType string
}
