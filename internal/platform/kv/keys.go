package kv

// LogicKey is the key of a single logic unit.
func LogicKey(tenant, namespace, name string) string {
	return tenant + ":logic:" + namespace + ":" + name
}

// SnapshotKey is the key holding every bundle of the latest deploy.
func SnapshotKey(tenant string) string {
	return "project:" + tenant + ":latest"
}

// SecretKey is the key of an opaque secret value.
func SecretKey(tenant, name string) string {
	return tenant + ":secrets:" + name
}

// PermissionsKey is the key of the tenant permissions document.
func PermissionsKey(tenant string) string {
	return tenant + ":permissions"
}

// InvalidationChannel is the pub/sub channel announcing redeployed bundles.
func InvalidationChannel(tenant string) string {
	return tenant + ":logic:invalidate"
}
