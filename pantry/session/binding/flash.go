package binding

const flashPrefix = "_flash_"

// Flash stores a message that will be deleted after being read.
// Useful for one-time messages like "Login successful".
func Flash(h *Handle, key string, value any) error {
	return h.SetAttribute(flashPrefix+key, value)
}

// GetFlash retrieves and removes a flash message.
func GetFlash(h *Handle, key string) (any, bool, error) {
	flashKey := flashPrefix + key
	value, ok, err := h.Attribute(flashKey)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := h.RemoveAttribute(flashKey); err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// GetFlashString retrieves and removes a flash message as a string.
func GetFlashString(h *Handle, key string) string {
	value, ok, err := GetFlash(h, key)
	if err != nil || !ok {
		return ""
	}
	str, _ := value.(string)
	return str
}
