package render

// Color palette shared by the renderers.
const (
	colorFg      = "#F8FAFC" // Slate 50
	colorFgMuted = "#94A3B8" // Slate 400
	colorAccent  = "#06B6D4" // Cyan 500
	colorPurple  = "#8B5CF6" // Purple 500
	colorSuccess = "#10B981" // Emerald 500
	colorWarning = "#F59E0B" // Amber 500
	colorError   = "#EF4444" // Red 500
	colorBorder  = "#334155" // Slate 700
	colorCodeBg  = "#1E293B" // Slate 800
)
