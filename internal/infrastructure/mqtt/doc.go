// Package mqtt is the broker session used by ceazamet-ingest.
//
// It mirrors readings, publishes round summaries and, for the ops API,
// subscribes to the reading mirror so the live feed can relay it. Paho
// handles reconnects; subscriptions are replayed on every new session.
//
// # Topic Tree
//
//	ceazamet/reading/{station_code}/{sensor_code}   one JSON message per reading
//	ceazamet/system/status                          retained Status (online/offline, last will)
//	ceazamet/system/round                           retained round summary
//
// Credentials come from CEAZAMET_MQTT_USERNAME / CEAZAMET_MQTT_PASSWORD.
// Set broker.tls for brokers off the host.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.Reading("PC", "TA_PC"), msg, false)
package mqtt
