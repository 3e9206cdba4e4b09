package api

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

func (s *server) getBoard(c echo.Context) error {
	if _, err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	key, err := domain.NewBoardKey(c.Param("projectId"), c.Param("boardName"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	b, err := s.handler.Snapshot(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrBoardNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to load board"})
	}
	b.Normalize()
	data, err := sonic.Marshal(b)
	if err != nil {
		c.Logger().Error(err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.JSONBlob(http.StatusOK, data)
}
