package platform

import (
	"fmt"
	"strings"

	"walletpass-service/internal/model"

	"go.uber.org/zap"
)

// rule is one rung of the signature ladder. An empty platform resolves to
// the detector's configured default.
type rule struct {
	name       string
	match      func(sig string) bool
	platform   model.Platform
	method     model.DetectionMethod
	confidence float64
	source     string
}

// signatureRules are evaluated top to bottom against the lower-cased
// signature; the first match wins. Several rules can match one signature, so
// the order is part of the routing contract.
var signatureRules = []rule{
	{
		name:       "ios-device",
		match:      func(s string) bool { return containsAny(s, "iphone", "ipad", "ipod") },
		platform:   model.PlatformApple,
		method:     model.MethodSignalMatch,
		confidence: 1.0,
		source:     "iOS device in signature",
	},
	{
		name:       "android",
		match:      func(s string) bool { return strings.Contains(s, "android") },
		platform:   model.PlatformGoogle,
		method:     model.MethodSignalMatch,
		confidence: 1.0,
		source:     "Android in signature",
	},
	{
		name: "macos-desktop",
		match: func(s string) bool {
			return containsAny(s, "macintosh", "mac os x") && !strings.Contains(s, "android")
		},
		platform:   model.PlatformApple,
		method:     model.MethodHeuristic,
		confidence: 0.75,
		source:     "macOS desktop (Apple ecosystem heuristic)",
	},
	{
		name: "windows-chrome",
		match: func(s string) bool {
			return strings.Contains(s, "windows") && strings.Contains(s, "chrome") && !strings.Contains(s, "edge")
		},
		platform:   model.PlatformGoogle,
		method:     model.MethodHeuristic,
		confidence: 0.55,
		source:     "Windows + Chrome (Google ecosystem heuristic)",
	},
	{
		name: "safari",
		match: func(s string) bool {
			return strings.Contains(s, "safari") && !strings.Contains(s, "chrome") && !strings.Contains(s, "android")
		},
		platform:   model.PlatformApple,
		method:     model.MethodHeuristic,
		confidence: 0.70,
		source:     "Safari browser (Apple ecosystem heuristic)",
	},
	{
		name:       "mobile",
		match:      func(s string) bool { return strings.Contains(s, "mobile") && !strings.Contains(s, "android") },
		platform:   model.PlatformApple,
		method:     model.MethodHeuristic,
		confidence: 0.60,
		source:     "Mobile device (non-Android)",
	},
	{
		name:       "bot",
		match:      func(s string) bool { return containsAny(s, "bot", "crawler", "spider", "curl", "wget", "postman") },
		method:     model.MethodDefault,
		confidence: 0.0,
		source:     "Bot/Crawler (default fallback)",
	},
	{
		name:       "unknown",
		match:      func(string) bool { return true },
		method:     model.MethodDefault,
		confidence: 0.50,
		source:     "Unknown signature (market-share fallback)",
	},
}

// Detector resolves the wallet platform for a request. It never returns
// PlatformUnknown.
type Detector struct {
	defaultPlatform model.Platform
	logger          *zap.Logger
}

func NewDetector(defaultPlatform model.Platform, logger *zap.Logger) *Detector {
	if defaultPlatform != model.PlatformApple && defaultPlatform != model.PlatformGoogle {
		defaultPlatform = model.PlatformApple
	}
	return &Detector{defaultPlatform: defaultPlatform, logger: logger}
}

// Detect applies, in order: a parseable explicit hint, the missing-signature
// default, then the signature rules.
func (d *Detector) Detect(hint, signature string) model.DetectionResult {
	if hint = strings.TrimSpace(hint); hint != "" {
		if p, ok := model.ParsePlatform(hint); ok {
			return model.DetectionResult{
				Platform:   p,
				Method:     model.MethodExplicitParameter,
				Confidence: 1.0,
				Source:     fmt.Sprintf("explicit parameter: %q", hint),
			}
		}
		d.logger.Warn("Ignoring unrecognised platform hint", zap.String("hint", hint))
	}

	if strings.TrimSpace(signature) == "" {
		return model.DetectionResult{
			Platform:   d.defaultPlatform,
			Method:     model.MethodDefault,
			Confidence: 0.0,
			Source:     "no signature present",
		}
	}

	sig := strings.ToLower(signature)
	for _, r := range signatureRules {
		if !r.match(sig) {
			continue
		}
		p := r.platform
		if p == "" {
			p = d.defaultPlatform
		}
		return model.DetectionResult{
			Platform:   p,
			Method:     r.method,
			Confidence: r.confidence,
			Source:     r.source,
		}
	}

	// unreachable: the last rule always matches
	return model.DetectionResult{Platform: d.defaultPlatform, Method: model.MethodDefault, Source: "no rule matched"}
}

// Analyze classifies a signature for diagnostics. It never affects routing.
func Analyze(signature string) model.SignatureAnalysis {
	sig := strings.ToLower(signature)
	return model.SignatureAnalysis{
		IsDesktop: containsAny(sig, "windows", "macintosh", "linux", "x11") && !strings.Contains(sig, "mobile"),
		IsMobile:  containsAny(sig, "mobile", "android", "iphone", "ipad", "ipod"),
		IsBot:     containsAny(sig, "bot", "crawler", "spider", "curl", "wget"),
		Browser:   firstMatch(sig, browserFamilies),
		OS:        firstMatch(sig, osFamilies),
	}
}

type family struct {
	needle string
	label  string
}

var browserFamilies = []family{
	{"edge", "Edge"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
	{"firefox", "Firefox"},
}

var osFamilies = []family{
	{"iphone", "iOS"},
	{"ipad", "iPadOS"},
	{"android", "Android"},
	{"mac os x", "macOS"},
	{"windows", "Windows"},
	{"linux", "Linux"},
}

func firstMatch(sig string, families []family) string {
	for _, f := range families {
		if strings.Contains(sig, f.needle) {
			return f.label
		}
	}
	return "Unknown"
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
