package vulkan

import vk "github.com/vulkan-go/vulkan"

// InstanceExtensions lists the instance extensions of the loaded driver.
func InstanceExtensions() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	orPanic(newError(vk.EnumerateInstanceExtensionProperties("", &count, nil)))
	list := make([]vk.ExtensionProperties, count)
	orPanic(newError(vk.EnumerateInstanceExtensionProperties("", &count, list)))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// DeviceExtensions lists the extensions available on gpu.
func DeviceExtensions(gpu vk.PhysicalDevice) (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	orPanic(newError(vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil)))
	list := make([]vk.ExtensionProperties, count)
	orPanic(newError(vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list)))
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, err
}

// Layers lists the instance layers installed on the system.
func Layers() (names []string, err error) {
	defer checkErr(&err)

	var count uint32
	orPanic(newError(vk.EnumerateInstanceLayerProperties(&count, nil)))
	list := make([]vk.LayerProperties, count)
	orPanic(newError(vk.EnumerateInstanceLayerProperties(&count, list)))
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, err
}

// checkExisting keeps the required names that are present in actual and
// counts the rest.
func checkExisting(actual, required []string) (existing []string, missing []string) {
	have := make(map[string]struct{}, len(actual))
	for _, name := range actual {
		have[name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := have[name]; ok {
			existing = append(existing, name)
		} else {
			missing = append(missing, name)
		}
	}
	return existing, missing
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// safeStrings null-terminates names for the C side.
func safeStrings(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, safeString(s))
	}
	return out
}

func safeString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}
