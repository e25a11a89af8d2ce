package cache

// TypeTag returns the invalidation tag shared by every cached entry of an
// entity type.
func TypeTag(typeName string) string {
	return "type:" + typeName
}

// EntityTag returns the invalidation tag for one identity.
func EntityTag(typeName, id string) string {
	return "entity:" + typeName + ":" + id
}

// QuerySignature keys a cached list or aggregate result by its descriptor
// signature.
func QuerySignature(typeName, descriptorSig string) string {
	return "query:" + typeName + ":" + descriptorSig
}

// FindSignature keys a cached single-entity fetch.
func FindSignature(typeName, id string) string {
	return "find:" + typeName + ":" + id
}
