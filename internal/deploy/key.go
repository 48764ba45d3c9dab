package deploy

// Key joins prefix and name with "/". An empty prefix yields name
// unchanged. Neither part is escaped or normalized.
func Key(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
