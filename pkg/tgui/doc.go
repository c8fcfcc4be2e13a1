// Package tgui builds Telegram HTML message fragments.
//
// Values of type H are already escaped and safe to send with
// ParseMode="HTML". Plain strings are escaped on the way in.
package tgui
