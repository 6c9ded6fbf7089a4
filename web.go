package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"golang.org/x/net/websocket"

	"sigdetour/internal/image"
	"sigdetour/internal/intercept"
	"sigdetour/internal/memory"
	"sigdetour/internal/pattern"
	"sigdetour/internal/scan"
)

const maxListedEvents = 50

// Routes serves the status page and its JSON endpoints.
func (a *App) Routes(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		events := a.Events.Events()
		if len(events) > maxListedEvents {
			events = events[len(events)-maxListedEvents:]
		}

		c.HTML(http.StatusOK, "index.html", gin.H{
			"Status":   a.Status(),
			"Game":     a.Game(),
			"GameName": a.GameName(),
			"Hooks":    a.Orch.Hooks(),
			"Events":   lo.Reverse(events),
			"IRC":      a.IRC != nil && a.IRC.Online(),
		})
	})

	r.GET("/hooks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": a.Status(),
			"hooks":  a.Orch.Hooks(),
		})
	})

	r.POST("/hooks/:name/remove", hookAction("remove", a.Orch.Uninstall))
	r.POST("/hooks/:name/disable", hookAction("disable", a.Orch.Disable))
	r.POST("/hooks/:name/enable", hookAction("enable", a.Orch.Enable))

	r.POST("/scan", func(c *gin.Context) {
		var p struct {
			Module  string `form:"module" json:"module"`
			Pattern string `form:"pattern" json:"pattern"`
		}

		if err := c.ShouldBind(&p); err != nil {
			c.AbortWithError(http.StatusBadRequest, err)
			return
		}

		pat, err := pattern.Parse(p.Pattern)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":       "bad_pattern",
				"description": err.Error(),
			})
			return
		}

		matches, err := a.scanAll(p.Module, pat)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":       "scan_error",
				"description": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"pattern": pat.String(),
			"matches": lo.Map(matches, func(addr memory.Address, _ int) string {
				return addr.String()
			}),
		})
	})

	r.GET("/events/ws", func(c *gin.Context) {
		handler := websocket.Handler(func(ws *websocket.Conn) {
			defer ws.Close()
			enc := json.NewEncoder(ws)
			ch := a.Broadcaster.Subscribe()
			for {
				select {
				case <-c.Request.Context().Done():
					return
				case e, ok := <-ch:
					if !ok {
						return
					}
					err := enc.Encode(e)
					if err != nil {
						a.logger.WithError(err).Debug("cannot send event")
						return
					}
				}
			}
		})
		handler.ServeHTTP(c.Writer, c.Request)
	})
}

func hookAction(action string, fn func(name string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := fn(c.Param("name"))
		if errors.Is(err, intercept.ErrUnknownHook) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":       "no_such_hook",
				"description": err.Error(),
			})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":       action + "_error",
				"description": err.Error(),
			})
			return
		}

		if c.ContentType() == "application/json" {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		c.Redirect(http.StatusFound, "/")
	}
}

const maxScanMatches = 64

// scanAll lists every match in the code section of a module.
func (a *App) scanAll(module string, p pattern.Pattern) ([]memory.Address, error) {
	m, err := image.Locate(a.Orch.Scanner.Modules, a.Mem, module)
	if err != nil {
		return nil, err
	}

	return codeMatches(a.Mem, m, p, maxScanMatches)
}

func codeMatches(r memory.Reader, m *image.Module, p pattern.Pattern, limit int) ([]memory.Address, error) {
	code := m.Code()
	buf, err := r.Read(code.Base, int(code.Size))
	if err != nil {
		return nil, err
	}

	offsets := scan.IndexAll(buf, p, limit)
	return lo.Map(offsets, func(off int, _ int) memory.Address {
		return code.Base.Add(int64(off))
	}), nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
