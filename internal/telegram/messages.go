package telegram

// Messages are the HTML reply templates. Placeholders in braces are filled
// with escaped values; anything left empty falls back to DefaultMessages.
type Messages struct {
	Welcome     string `yaml:"welcome"`
	OpenButton  string `yaml:"open_button"`
	SendRequest string `yaml:"send_request"` // {tags}
	// RequestReceived confirms a pending request; {tag}.
	RequestReceived string `yaml:"request_received"`
	EditButton      string `yaml:"edit_button"`
	PostButton      string `yaml:"post_button"`
	Published       string `yaml:"published"`

	NotJoined       string `yaml:"not_joined"`
	JoinButton      string `yaml:"join_button"`
	InvalidTag      string `yaml:"invalid_tag"` // {tags}
	NoActiveRequest string `yaml:"no_active_request"`
	Cooldown        string `yaml:"cooldown"`       // {minutes}
	PublishFailed   string `yaml:"publish_failed"` // {detail}
	InternalError   string `yaml:"internal_error"`

	// Status answers /status; {state}, {pending}, {cooldown}.
	Status       string `yaml:"status"`
	CooldownFree string `yaml:"cooldown_free"`
	CooldownLeft string `yaml:"cooldown_left"` // {minutes}

	ResetUsage  string `yaml:"reset_usage"`
	ResetDone   string `yaml:"reset_done"` // {user_id}
	AdminOnly   string `yaml:"admin_only"`
	RateLimited string `yaml:"rate_limited"`

	// UnknownAction answers buttons the bot no longer handles.
	UnknownAction string `yaml:"unknown_action"`
}

// DefaultMessages returns the built-in English texts.
func DefaultMessages() Messages {
	return Messages{
		Welcome: "<b>Welcome!</b>\n\n" +
			"Use this bot to publish a buy, sell or trade request in the channel.\n" +
			"Tap <b>Open Request</b> to begin.",
		OpenButton:      "📩 Open Request",
		SendRequest:     "Send your request as one message starting with one of: {tags}",
		RequestReceived: "Your <b>{tag}</b> request is ready. Post it to the channel or edit it first.",
		EditButton:      "✏️ Edit",
		PostButton:      "📤 Post",
		Published:       "✅ Your request has been posted to the channel.",

		NotJoined:       "You need to join the channel before opening a request.",
		JoinButton:      "Join channel",
		InvalidTag:      "❌ Invalid hashtag. Start your message with one of: {tags}",
		NoActiveRequest: "You have no active request. Tap <b>Open Request</b> to start a new one.",
		Cooldown:        "⏳ Please wait {minutes} more minute(s) before posting again.",
		PublishFailed:   "⚠️ Failed to post your request: {detail}",
		InternalError:   "Something went wrong. Please try again later.",

		Status:       "State: <b>{state}</b>\nPending request: <b>{pending}</b>\nCooldown: <b>{cooldown}</b>",
		CooldownFree: "none",
		CooldownLeft: "{minutes} min",

		ResetUsage:  "Usage: /reset_user &lt;user_id&gt;",
		ResetDone:   "Session of user <code>{user_id}</code> has been reset.",
		AdminOnly:   "This command is for admins only.",
		RateLimited: "Too many requests, slow down a little.",

		UnknownAction: "Unsupported action",
	}
}

// WithDefaults fills every empty field from DefaultMessages.
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&m.Welcome, d.Welcome)
	fill(&m.OpenButton, d.OpenButton)
	fill(&m.SendRequest, d.SendRequest)
	fill(&m.RequestReceived, d.RequestReceived)
	fill(&m.EditButton, d.EditButton)
	fill(&m.PostButton, d.PostButton)
	fill(&m.Published, d.Published)
	fill(&m.NotJoined, d.NotJoined)
	fill(&m.JoinButton, d.JoinButton)
	fill(&m.InvalidTag, d.InvalidTag)
	fill(&m.NoActiveRequest, d.NoActiveRequest)
	fill(&m.Cooldown, d.Cooldown)
	fill(&m.PublishFailed, d.PublishFailed)
	fill(&m.InternalError, d.InternalError)
	fill(&m.Status, d.Status)
	fill(&m.CooldownFree, d.CooldownFree)
	fill(&m.CooldownLeft, d.CooldownLeft)
	fill(&m.ResetUsage, d.ResetUsage)
	fill(&m.ResetDone, d.ResetDone)
	fill(&m.AdminOnly, d.AdminOnly)
	fill(&m.RateLimited, d.RateLimited)
	fill(&m.UnknownAction, d.UnknownAction)
	return m
}
