package tui

// Supported locales: "en" (default) and "zh".
var currentLocale = "en"

// SetLocale changes the active locale. Unknown locales are ignored.
func SetLocale(locale string) {
	if _, ok := locales[locale]; ok {
		currentLocale = locale
	}
}

// CurrentLocale returns the active locale code.
func CurrentLocale() string {
	return currentLocale
}

// ToggleLocale switches between en and zh.
func ToggleLocale() {
	if currentLocale == "zh" {
		currentLocale = "en"
	} else {
		currentLocale = "zh"
	}
}

// T returns the translated string for key, falling back to English and then
// to the key itself.
func T(key string) string {
	if v, ok := locales[currentLocale][key]; ok {
		return v
	}
	if v, ok := locales["en"][key]; ok {
		return v
	}
	return key
}

var locales = map[string]map[string]string{
	"en": enStrings,
	"zh": zhStrings,
}

// TabNames returns tab names in the current locale.
func TabNames() []string {
	return []string{T("tab_account"), T("tab_logs")}
}

var enStrings = map[string]string{
	"tab_account":      "Account",
	"tab_logs":         "Logs",
	"initializing_tui": "Initializing...",
	"loading":          "Loading...",
	"status_left":      " Aquila sign-in",
	"status_right":     "Tab: switch • L: lang • q: quit ",

	"account_title":    "Discord Account",
	"account_help":     " [l] Log in • [x] Cancel • [o] Log out • [r] Refresh • [c] Copy URL • [p] Paste callback",
	"signed_out":       "Not signed in",
	"signed_in_as":     "Signed in as",
	"label_user":       "User",
	"label_id":         "ID",
	"label_email":      "Email",
	"label_expires":    "Token expires",
	"label_attempt":    "Attempt",
	"waiting_browser":  "Waiting for you to approve in the browser...",
	"auth_url":         "Authorization URL:",
	"copied":           "✓ Copied to clipboard",
	"copy_failed":      "✗ Copy failed: %s",
	"login_succeeded":  "✓ Signed in as %s",
	"login_failed":     "✗ Sign-in failed: %s",
	"logged_out":       "Signed out",
	"refreshed":        "✓ Token refreshed",
	"action_failed":    "✗ %s",
	"callback_prompt":  "  Callback URL: ",
	"callback_help":    "    Enter: Submit • Esc: Cancel",
	"callback_sent":    "Callback submitted, exchanging code...",
	"events_closed":    "Event stream closed",
	"logs_title":       "Logs",
	"logs_auto_scroll": "● AUTO-SCROLL",
	"logs_paused":      "○ PAUSED",
	"logs_filter":      "Filter",
	"logs_lines":       "Lines",
	"logs_help":        " [a] Auto-scroll • [c] Clear • [1] All [2] info+ [3] warn+ [4] error • [↑↓] Scroll",
	"logs_waiting":     "  Waiting for log output...",
}

var zhStrings = map[string]string{
	"tab_account":      "账号",
	"tab_logs":         "日志",
	"initializing_tui": "正在初始化...",
	"loading":          "加载中...",
	"status_left":      " Aquila 登录",
	"status_right":     "Tab: 切换 • L: 语言 • q: 退出 ",

	"account_title":    "Discord 账号",
	"account_help":     " [l] 登录 • [x] 取消 • [o] 退出登录 • [r] 刷新 • [c] 复制链接 • [p] 粘贴回调",
	"signed_out":       "未登录",
	"signed_in_as":     "当前账号",
	"label_user":       "用户",
	"label_id":         "ID",
	"label_email":      "邮箱",
	"label_expires":    "令牌过期",
	"label_attempt":    "登录尝试",
	"waiting_browser":  "请在浏览器中完成授权...",
	"auth_url":         "授权链接：",
	"copied":           "✓ 已复制到剪贴板",
	"copy_failed":      "✗ 复制失败：%s",
	"login_succeeded":  "✓ 已登录：%s",
	"login_failed":     "✗ 登录失败：%s",
	"logged_out":       "已退出登录",
	"refreshed":        "✓ 令牌已刷新",
	"action_failed":    "✗ %s",
	"callback_prompt":  "  回调链接: ",
	"callback_help":    "    Enter: 提交 • Esc: 取消",
	"callback_sent":    "回调已提交，正在换取令牌...",
	"events_closed":    "事件流已关闭",
	"logs_title":       "日志",
	"logs_auto_scroll": "● 自动滚动",
	"logs_paused":      "○ 已暂停",
	"logs_filter":      "过滤",
	"logs_lines":       "行数",
	"logs_help":        " [a] 自动滚动 • [c] 清空 • [1] 全部 [2] info+ [3] warn+ [4] error • [↑↓] 滚动",
	"logs_waiting":     "  等待日志输出...",
}
