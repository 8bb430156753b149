package utils

// Helper functions for optional fields
func BoolPtr(b bool) *bool {
	return &b
}

func StringPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

func StringPtrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NilIfEmpty maps "" to nil so optional text columns store NULL.
func NilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
