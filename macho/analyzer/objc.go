package analyzer

// HasObjC reports whether the image carries an __OBJC segment (legacy
// 32-bit runtime) or a __DATA*,__objc_* family of sections (modern
// runtime) — enough to tell the loader graph that libobjc must be made
// present before this image's initializers run. Full class/category/
// protocol metadata decoding is out of scope; dyld itself only needs this
// coarse signal to order objc's own registration relative to +load calls.
func (img *Image) HasObjC() bool {
	if img.FindSegment("__OBJC") != nil {
		return true
	}
	for _, seg := range img.Segments {
		for _, sec := range seg.Sections {
			if sec.Name == "__objc_imageinfo" {
				return true
			}
		}
	}
	return false
}

// MayHavePlusLoad reports whether the image might define an Objective-C
// +load method, by checking for a non-empty __objc_nlclslist /
// __objc_nlcatlist section (dyld's own coarse pre-check before walking
// class lists, per MachOAnalyzer::hasPlusLoadMethod's section-presence
// fast path).
func (img *Image) MayHavePlusLoad() bool {
	for _, seg := range img.Segments {
		for _, sec := range seg.Sections {
			if sec.Name == "__objc_nlclslist" || sec.Name == "__objc_nlcatlist" {
				if sec.Size > 0 {
					return true
				}
			}
		}
	}
	return false
}
