package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"

	"github.com/amimof/huego"
	"github.com/labstack/echo/v4"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/domain/service"
)

// Hue API error types.
const (
	hueErrInvalidJSON     = 2
	hueErrNotAvailable    = 3
	hueErrInternal        = 901
	hueBridgeName         = "Philips hue"
	hueBridgeID           = "001788FFFE102201"
	hueBridgeMAC          = "00:17:88:10:22:01"
	hueBridgeAPIVersion   = "1.11.0"
	hueBridgeSWVersion    = "01003542"
	hueBridgeModelID      = "BSB001"
	hueRegisteredUsername = "admin"
)

type hueError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// hueFailure writes the Hue error envelope. Hue bridges report errors with status 200.
func hueFailure(c echo.Context, typ int, address, description string) error {
	return c.JSON(http.StatusOK, []map[string]hueError{{
		"error": {Type: typ, Address: address, Description: description},
	}})
}

func (s *Server) handleDescription(c echo.Context) error {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" ?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion>
<major>1</major>
<minor>0</minor>
</specVersion>
<URLBase>http://%s:%d/</URLBase>
<device>
<deviceType>urn:schemas-upnp-org:device:Basic:1</deviceType>
<friendlyName>Philips hue (%s)</friendlyName>
<manufacturer>Royal Philips Electronics</manufacturer>
<manufacturerURL>http://www.philips.com</manufacturerURL>
<modelDescription>Philips hue Personal Wireless Lighting</modelDescription>
<modelName>Philips hue bridge 2012</modelName>
<modelNumber>929000226503</modelNumber>
<modelURL>http://www.meethue.com</modelURL>
<serialNumber>001788102201</serialNumber>
<UDN>uuid:2f402f80-da50-11e1-9b23-001788102201</UDN>
<presentationURL>admin</presentationURL>
</device>
</root>`, s.ip, s.port, s.ip)
	return c.Blob(http.StatusOK, "text/xml", []byte(body))
}

func (s *Server) handleRegister(c echo.Context) error {
	return c.JSON(http.StatusOK, []map[string]any{
		{"success": map[string]string{"username": hueRegisteredUsername}},
	})
}

func (s *Server) bridgeConfig() map[string]any {
	return map[string]any{
		"name":       hueBridgeName,
		"swversion":  hueBridgeSWVersion,
		"apiversion": hueBridgeAPIVersion,
		"mac":        hueBridgeMAC,
		"bridgeid":   hueBridgeID,
		"modelid":    hueBridgeModelID,
		"ipaddress":  s.ip,
	}
}

func (s *Server) handleBridgeConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.bridgeConfig())
}

func (s *Server) handleFullState(c echo.Context) error {
	lights, err := s.lights(c)
	if err != nil {
		return hueFailure(c, hueErrInternal, "/", err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"lights": lights,
		"groups": map[string]any{},
		"config": s.bridgeConfig(),
	})
}

func (s *Server) handleGetLights(c echo.Context) error {
	lights, err := s.lights(c)
	if err != nil {
		return hueFailure(c, hueErrInternal, "/lights", err.Error())
	}
	return c.JSON(http.StatusOK, lights)
}

func (s *Server) lights(c echo.Context) (map[string]*huego.Light, error) {
	devices, err := s.bridge.GetDevices(c.Request().Context())
	if err != nil {
		return nil, err
	}
	lights := make(map[string]*huego.Light, len(devices))
	for _, d := range devices {
		lights[d.ID] = s.toLight(d)
	}
	return lights, nil
}

func (s *Server) toLight(d *model.Device) *huego.Light {
	meta := s.translatorFactory.GetTranslator(d.Type).GetMetadata()
	return &huego.Light{
		Name:             d.Name,
		Type:             meta.Type,
		State:            d.State,
		ModelID:          meta.ModelID,
		UniqueID:         uniqueID(d.ID),
		ManufacturerName: meta.ManufacturerName,
		SwVersion:        hueBridgeSWVersion,
	}
}

// uniqueID builds a stable Zigbee-style id from the Hue id.
func uniqueID(id string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	return fmt.Sprintf("00:17:88:01:%02x:%02x:%02x:%02x-0b", byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

func (s *Server) handleGetLight(c echo.Context) error {
	id := c.Param("id")
	device, err := s.bridge.GetDevice(c.Request().Context(), id)
	if err != nil {
		return hueFailure(c, hueErrNotAvailable, "/lights/"+id, fmt.Sprintf("resource, /lights/%s, not available", id))
	}
	return c.JSON(http.StatusOK, s.toLight(device))
}

func (s *Server) handleSetLightState(c echo.Context) error {
	id := c.Param("id")
	address := fmt.Sprintf("/lights/%s/state", id)

	var stateUpdate map[string]interface{}
	// Bind would mix path params into the map.
	if err := json.NewDecoder(c.Request().Body).Decode(&stateUpdate); err != nil {
		return hueFailure(c, hueErrInvalidJSON, address, "body contains invalid json")
	}

	err := s.bridge.UpdateDeviceState(c.Request().Context(), id, stateUpdate)
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		return hueFailure(c, hueErrNotAvailable, "/lights/"+id, fmt.Sprintf("resource, /lights/%s, not available", id))
	case err != nil:
		s.logger.Warn().Err(err).Str("light", id).Msg("Light state update failed")
		return hueFailure(c, hueErrInternal, address, err.Error())
	}

	resp := make([]map[string]any, 0, len(stateUpdate))
	for k, v := range stateUpdate {
		resp = append(resp, map[string]any{
			"success": map[string]any{
				fmt.Sprintf("%s/%s", address, k): v,
			},
		})
	}
	return c.JSON(http.StatusOK, resp)
}
