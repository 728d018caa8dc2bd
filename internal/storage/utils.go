package storage

func addPrefix(prefix []byte, key []byte) []byte {
	return append(prefix, key...)
}
